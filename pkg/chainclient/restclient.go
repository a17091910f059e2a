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

package chainclient

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/mintvend/mintvend/internal/cache"
	"github.com/mintvend/mintvend/internal/confutil"
	"github.com/mintvend/mintvend/internal/msgs"
	"github.com/mintvend/mintvend/pkg/ledger"
)

type Config struct {
	URL            string       `yaml:"url"`
	APIKey         string       `yaml:"apiKey"`
	RequestTimeout *string      `yaml:"requestTimeout"`
	TipCache       cache.Config `yaml:"tipCache"`
	ParamsCache    cache.Config `yaml:"paramsCache"`
}

var TipCacheDefaults = &cache.Config{
	Capacity: confutil.P(1),
	TTL:      confutil.P("2s"),
}

var ParamsCacheDefaults = &cache.Config{
	Capacity: confutil.P(1),
	TTL:      confutil.P("5m"),
}

type restClient struct {
	http        *resty.Client
	tipCache    cache.Cache[string, *Tip]
	paramsCache cache.Cache[string, *ProtocolParams]
}

// NewRESTClient builds a client for a REST chain-data provider. The wire
// shapes here are the provider's, not part of the pipeline contract.
func NewRESTClient(ctx context.Context, conf *Config) Client {
	httpClient := resty.New().
		SetBaseURL(conf.URL).
		SetTimeout(confutil.Duration(conf.RequestTimeout, 0))
	if conf.APIKey != "" {
		httpClient.SetHeader("api-key", conf.APIKey)
	}
	return &restClient{
		http:        httpClient,
		tipCache:    cache.NewTTLCache[string, *Tip](&conf.TipCache, TipCacheDefaults),
		paramsCache: cache.NewTTLCache[string, *ProtocolParams](&conf.ParamsCache, ParamsCacheDefaults),
	}
}

func (rc *restClient) get(ctx context.Context, op, path string, result interface{}) error {
	resp, err := rc.http.R().SetContext(ctx).SetResult(result).Get(path)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgChainRequestFailed, op)
	}
	if resp.IsError() {
		return i18n.NewError(ctx, msgs.MsgChainStatusError, op, resp.StatusCode(), resp.String())
	}
	return nil
}

type wireUtxo struct {
	TxHash string        `json:"txHash"`
	Index  uint32        `json:"outputIndex"`
	Value  ledger.Bundle `json:"value"`
}

func (rc *restClient) GetUtxosAt(ctx context.Context, address string) ([]*ledger.Utxo, error) {
	var wire []*wireUtxo
	if err := rc.get(ctx, "getUtxosAt", fmt.Sprintf("/addresses/%s/utxos", address), &wire); err != nil {
		return nil, err
	}
	utxos := make([]*ledger.Utxo, len(wire))
	for i, w := range wire {
		utxos[i] = &ledger.Utxo{TxHash: w.TxHash, Index: w.Index, Value: w.Value}
	}
	log.L(ctx).Tracef("getUtxosAt %s returned %d utxos", address, len(utxos))
	return utxos, nil
}

func (rc *restClient) GetLatestTip(ctx context.Context) (*Tip, error) {
	if tip, ok := rc.tipCache.Get("tip"); ok {
		return tip, nil
	}
	var tip Tip
	if err := rc.get(ctx, "getLatestTip", "/tip", &tip); err != nil {
		return nil, err
	}
	rc.tipCache.Set("tip", &tip)
	return &tip, nil
}

func (rc *restClient) GetProtocolParams(ctx context.Context) (*ProtocolParams, error) {
	if params, ok := rc.paramsCache.Get("params"); ok {
		return params, nil
	}
	var params ProtocolParams
	if err := rc.get(ctx, "getProtocolParams", "/protocol-parameters", &params); err != nil {
		return nil, err
	}
	rc.paramsCache.Set("params", &params)
	return &params, nil
}

func (rc *restClient) GetTransactionIO(ctx context.Context, txHash string) (*TxIO, error) {
	var txIO TxIO
	if err := rc.get(ctx, "getTransactionIO", fmt.Sprintf("/transactions/%s/io", txHash), &txIO); err != nil {
		return nil, err
	}
	if len(txIO.Inputs) == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgChainEmptyTxIO, txHash)
	}
	return &txIO, nil
}

type submitResponse struct {
	TxHash string `json:"txHash"`
}

func (rc *restClient) SubmitTransaction(ctx context.Context, signedTx []byte) (string, error) {
	var result submitResponse
	resp, err := rc.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/cbor").
		SetBody(signedTx).
		SetResult(&result).
		Post("/transactions")
	if err != nil {
		return "", i18n.WrapError(ctx, err, msgs.MsgChainRequestFailed, "submitTransaction")
	}
	if resp.IsError() {
		return "", i18n.NewError(ctx, msgs.MsgChainStatusError, "submitTransaction", resp.StatusCode(), resp.String())
	}
	return result.TxHash, nil
}
