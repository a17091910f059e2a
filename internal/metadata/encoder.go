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
	"time"

	"github.com/mintvend/mintvend/internal/catalog"
)

// Metadata labels for the auxiliary data attached to sale transactions.
const (
	LabelMessage = uint64(674)
	LabelMint    = uint64(721)
	LabelRoyalty = uint64(777)
)

// MaxStringLen is the ledger's limit on a single metadata text string.
// Longer strings are carried as an ordered array of chunks.
const MaxStringLen = 64

// Doc is a metadata document keyed by label, ready for CBOR encoding as the
// transaction's auxiliary data.
type Doc map[uint64]interface{}

// ChunkString splits s into ordered chunks of at most MaxStringLen
// characters; concatenating the chunks reproduces s exactly.
func ChunkString(s string) []string {
	if s == "" {
		return []string{""}
	}
	chunks := make([]string, 0, (len(s)+MaxStringLen-1)/MaxStringLen)
	for len(s) > MaxStringLen {
		chunks = append(chunks, s[:MaxStringLen])
		s = s[MaxStringLen:]
	}
	return append(chunks, s)
}

// BuildMintMetadata builds the label-721 document for the minted tokens,
// grouped by the collection's policy id and per-token asset name.
//
// The document has two mutually exclusive shapes: the scalar shape with
// plain string fields, and the chunked shape where every eligible string is
// an ordered array of <=MaxStringLen chunks. One over-long string anywhere
// in the batch switches the whole document to the chunked shape.
func BuildMintMetadata(tokens []*catalog.Token, collection *catalog.Collection) Doc {
	chunked := mintNeedsChunking(tokens)

	assets := map[string]interface{}{}
	for _, token := range tokens {
		fields := map[string]interface{}{
			"name":      stringField(token.Name, chunked),
			"image":     stringField(token.Image, chunked),
			"mediaType": stringField(token.MediaType, chunked),
		}
		if token.Description != "" {
			fields["description"] = stringField(token.Description, chunked)
		}
		if len(collection.Publishers) > 0 {
			fields["publisher"] = collection.Publishers
		}
		if len(collection.Creators) > 0 {
			fields["creators"] = collection.Creators
		}
		if len(token.Files) > 0 {
			files := make([]interface{}, 0, len(token.Files))
			for _, file := range token.Files {
				files = append(files, map[string]interface{}{
					"name":      stringField(file.Name, chunked),
					"mediaType": stringField(file.MediaType, chunked),
					"src":       stringField(file.Src, chunked),
				})
			}
			fields["files"] = files
		}
		for key, value := range token.Attributes {
			if _, reserved := fields[key]; !reserved {
				fields[key] = stringField(value, chunked)
			}
		}
		assets[token.AssetName] = fields
	}

	return Doc{LabelMint: map[string]interface{}{collection.PolicyID: assets}}
}

// BuildMessageMetadata builds the label-674 advisory document carried by
// refund transactions, with a UTC timestamp alongside the message lines.
func BuildMessageMetadata(lines []string) Doc {
	msg := make([]string, 0, len(lines))
	for _, line := range lines {
		msg = append(msg, ChunkString(line)...)
	}
	return Doc{LabelMessage: map[string]interface{}{
		"msg":       msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}}
}

// BuildRoyaltyMetadata builds the label-777 document, applying the same
// chunking rule to the royalty address.
func BuildRoyaltyMetadata(royalty *catalog.Royalty) Doc {
	return Doc{LabelRoyalty: map[string]interface{}{
		"rate": royalty.Rate,
		"addr": stringField(royalty.Address, len(royalty.Address) > MaxStringLen),
	}}
}

func stringField(s string, chunked bool) interface{} {
	if chunked {
		return ChunkString(s)
	}
	return s
}

func mintNeedsChunking(tokens []*catalog.Token) bool {
	for _, token := range tokens {
		if longString(token.Name, token.Description, token.Image, token.MediaType) {
			return true
		}
		for _, file := range token.Files {
			if longString(file.Name, file.MediaType, file.Src) {
				return true
			}
		}
		for _, value := range token.Attributes {
			if longString(value) {
				return true
			}
		}
	}
	return false
}

func longString(values ...string) bool {
	for _, v := range values {
		if len(v) > MaxStringLen {
			return true
		}
	}
	return false
}
