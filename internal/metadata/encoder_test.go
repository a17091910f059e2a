// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metadata

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mintvend/mintvend/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicyID = "d5e6bf0500378d4f0da4e8dde6becec7621cd8cbf5cbb9b87013d4cc"

func testCollection() *catalog.Collection {
	return &catalog.Collection{
		ID:         uuid.New(),
		Name:       "Space Buds",
		PolicyID:   testPolicyID,
		Publishers: []string{"mintvend.io"},
		Creators:   []string{"Space Buds Studio"},
	}
}

func TestChunkString(t *testing.T) {
	// 130 characters -> 64 + 64 + 2
	long := strings.Repeat("a", 130)
	chunks := ChunkString(long)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 64)
	assert.Len(t, chunks[1], 64)
	assert.Len(t, chunks[2], 2)
	assert.Equal(t, long, strings.Join(chunks, ""))

	assert.Equal(t, []string{"short"}, ChunkString("short"))
	assert.Equal(t, []string{""}, ChunkString(""))
	assert.Equal(t, []string{strings.Repeat("b", 64)}, ChunkString(strings.Repeat("b", 64)))
}

func TestBuildMintMetadataScalarShape(t *testing.T) {
	token := &catalog.Token{
		ID:          uuid.New(),
		AssetName:   "SpaceBud0001",
		Name:        "Space Bud #1",
		Description: "A bud in space",
		Image:       "ipfs://QmShort",
		MediaType:   "image/png",
		Attributes:  map[string]string{"helmet": "gold"},
	}

	doc := BuildMintMetadata([]*catalog.Token{token}, testCollection())

	byPolicy := doc[LabelMint].(map[string]interface{})
	assets := byPolicy[testPolicyID].(map[string]interface{})
	fields := assets["SpaceBud0001"].(map[string]interface{})
	assert.Equal(t, "Space Bud #1", fields["name"])
	assert.Equal(t, "ipfs://QmShort", fields["image"])
	assert.Equal(t, "A bud in space", fields["description"])
	assert.Equal(t, "gold", fields["helmet"])
	assert.Equal(t, []string{"mintvend.io"}, fields["publisher"])
	assert.Equal(t, []string{"Space Buds Studio"}, fields["creators"])
}

func TestBuildMintMetadataChunkedShape(t *testing.T) {
	longImage := "ipfs://" + strings.Repeat("Q", 123) // 130 chars
	tokens := []*catalog.Token{
		{
			AssetName: "SpaceBud0001",
			Name:      "Space Bud #1",
			Image:     longImage,
			MediaType: "image/png",
		},
		{
			// a token with only short strings still switches shape with the batch
			AssetName: "SpaceBud0002",
			Name:      "Space Bud #2",
			Image:     "ipfs://QmShort",
			MediaType: "image/png",
		},
	}

	doc := BuildMintMetadata(tokens, testCollection())
	assets := doc[LabelMint].(map[string]interface{})[testPolicyID].(map[string]interface{})

	first := assets["SpaceBud0001"].(map[string]interface{})
	chunks := first["image"].([]string)
	require.Len(t, chunks, 3)
	assert.Equal(t, longImage, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), MaxStringLen)
	}

	second := assets["SpaceBud0002"].(map[string]interface{})
	assert.Equal(t, []string{"ipfs://QmShort"}, second["image"])
	assert.Equal(t, []string{"Space Bud #2"}, second["name"])
}

func TestBuildMintMetadataFileTriggersChunking(t *testing.T) {
	token := &catalog.Token{
		AssetName: "SpaceBud0001",
		Name:      "Space Bud #1",
		Image:     "ipfs://QmShort",
		MediaType: "image/png",
		Files: []catalog.TokenFile{
			{Name: "hi-res", MediaType: "image/png", Src: "ipfs://" + strings.Repeat("f", 100)},
		},
	}

	doc := BuildMintMetadata([]*catalog.Token{token}, testCollection())
	fields := doc[LabelMint].(map[string]interface{})[testPolicyID].(map[string]interface{})["SpaceBud0001"].(map[string]interface{})

	// whole document is in the chunked shape
	assert.Equal(t, []string{"Space Bud #1"}, fields["name"])
	files := fields["files"].([]interface{})
	require.Len(t, files, 1)
	src := files[0].(map[string]interface{})["src"].([]string)
	assert.Len(t, src, 2)
}

func TestBuildMessageMetadata(t *testing.T) {
	doc := BuildMessageMetadata([]string{"mintvend refund", "salepaymentinsufficient"})

	content := doc[LabelMessage].(map[string]interface{})
	assert.Equal(t, []string{"mintvend refund", "salepaymentinsufficient"}, content["msg"])

	ts, err := time.Parse(time.RFC3339, content["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestBuildMessageMetadataChunksLongLines(t *testing.T) {
	doc := BuildMessageMetadata([]string{strings.Repeat("x", 70)})
	msg := doc[LabelMessage].(map[string]interface{})["msg"].([]string)
	require.Len(t, msg, 2)
	assert.Equal(t, strings.Repeat("x", 70), strings.Join(msg, ""))
}

func TestBuildRoyaltyMetadata(t *testing.T) {
	short := BuildRoyaltyMetadata(&catalog.Royalty{Rate: "0.05", Address: "addr1short"})
	content := short[LabelRoyalty].(map[string]interface{})
	assert.Equal(t, "0.05", content["rate"])
	assert.Equal(t, "addr1short", content["addr"])

	longAddr := "addr1" + strings.Repeat("q", 98)
	chunkedDoc := BuildRoyaltyMetadata(&catalog.Royalty{Rate: "0.05", Address: longAddr})
	addr := chunkedDoc[LabelRoyalty].(map[string]interface{})["addr"].([]string)
	require.Len(t, addr, 2)
	assert.Equal(t, longAddr, strings.Join(addr, ""))
}
