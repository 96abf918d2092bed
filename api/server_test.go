// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luxfi/lending-indexer/feed"
	"github.com/luxfi/lending-indexer/ledger"
	"github.com/luxfi/lending-indexer/storage"
)

const (
	assetHex = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	poolID   = "0x2f39d218133afab8f2b819b1066c7e434ad94e9e"
	userHex  = "0x1111111111111111111111111111111111111111"
)

func setupTestServer(t *testing.T) (*storage.Unified, *httptest.Server) {
	t.Helper()
	store := storage.NewMemory()
	s := NewServer(Config{Listen: ":0", Version: "test"}, store, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return store, ts
}

func get(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("Failed to GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func mustSave(t *testing.T, store *storage.Unified, kind, id string, v any) {
	t.Helper()
	if err := store.Save(context.Background(), kind, id, v); err != nil {
		t.Fatalf("Failed to save %s %s: %v", kind, id, err)
	}
}

func TestHealth(t *testing.T) {
	_, ts := setupTestServer(t)
	var body map[string]interface{}
	if code := get(t, ts, "/health", &body); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	if code := get(t, ts, "/metrics", nil); code != http.StatusOK {
		t.Errorf("metrics status = %d", code)
	}
}

func TestEntityEndpoints(t *testing.T) {
	store, ts := setupTestServer(t)
	reserveID := ledger.ReserveID(common.HexToAddress(assetHex), poolID)
	mustSave(t, store, ledger.KindProtocol, ledger.ProtocolID, &ledger.Protocol{ID: ledger.ProtocolID})
	mustSave(t, store, ledger.KindReserve, reserveID, &ledger.Reserve{ID: reserveID, Symbol: "DAI", Decimals: 18})
	userID := ledger.AddressID(common.HexToAddress(userHex))
	mustSave(t, store, ledger.KindUser, userID, &ledger.User{ID: userID, BorrowedReservesCount: 2})

	t.Run("Protocol", func(t *testing.T) {
		var p ledger.Protocol
		if code := get(t, ts, "/v1/protocol", &p); code != http.StatusOK || p.ID != ledger.ProtocolID {
			t.Errorf("protocol = %d %+v", code, p)
		}
	})

	t.Run("ReserveIDIsCaseInsensitive", func(t *testing.T) {
		var r ledger.Reserve
		mixed := assetHex + "0x" + strings.ToUpper(poolID[2:])
		if code := get(t, ts, "/v1/reserves/"+mixed, &r); code != http.StatusOK {
			t.Fatalf("reserve status = %d", code)
		}
		if r.Symbol != "DAI" || r.Decimals != 18 {
			t.Errorf("reserve = %+v", r)
		}
	})

	t.Run("User", func(t *testing.T) {
		var u ledger.User
		if code := get(t, ts, "/v1/users/"+userHex, &u); code != http.StatusOK || u.BorrowedReservesCount != 2 {
			t.Errorf("user = %d %+v", code, u)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		for _, path := range []string{"/v1/pools/0xdead", "/v1/sub-tokens/0xdead", "/v1/price-oracle", "/v1/user-reserves/x"} {
			if code := get(t, ts, path, nil); code != http.StatusNotFound {
				t.Errorf("%s: status = %d, want 404", path, code)
			}
		}
	})
}

func TestHistoryEndpoints(t *testing.T) {
	store, ts := setupTestServer(t)
	reserveID := ledger.ReserveID(common.HexToAddress(assetHex), poolID)
	urID := ledger.UserReserveID(common.HexToAddress(userHex), common.HexToAddress(assetHex), poolID)

	for i, block := range []uint64{30, 10, 20} {
		m := ledger.Meta{BlockNumber: block, TxHash: common.BigToHash(big.NewInt(int64(100 - i)))}
		item := &ledger.ReserveParamsHistoryItem{ID: ledger.HistoryID(reserveID, m), Reserve: reserveID, BlockNumber: block}
		mustSave(t, store, ledger.KindReserveParamsHistory, item.ID, item)

		bal := &ledger.BalanceHistoryItem{ID: ledger.HistoryID(urID, m), UserReserve: urID, Instrument: ledger.InstrumentAToken, BlockNumber: block}
		kind := ledger.KindATokenBalanceHistory
		if i == 2 {
			bal.Instrument = ledger.InstrumentVToken
			kind = ledger.KindVTokenBalanceHistory
		}
		mustSave(t, store, kind, bal.ID, bal)
	}

	t.Run("ReserveOrderedByBlock", func(t *testing.T) {
		var body struct {
			Items []ledger.ReserveParamsHistoryItem `json:"items"`
		}
		if code := get(t, ts, "/v1/reserves/"+reserveID+"/history", &body); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if len(body.Items) != 3 {
			t.Fatalf("items = %d, want 3", len(body.Items))
		}
		for i, want := range []uint64{10, 20, 30} {
			if body.Items[i].BlockNumber != want {
				t.Errorf("item %d block = %d, want %d", i, body.Items[i].BlockNumber, want)
			}
		}
	})

	t.Run("LimitKeepsNewest", func(t *testing.T) {
		var body struct {
			Items []ledger.ReserveParamsHistoryItem `json:"items"`
		}
		get(t, ts, "/v1/reserves/"+reserveID+"/history?limit=1", &body)
		if len(body.Items) != 1 || body.Items[0].BlockNumber != 30 {
			t.Errorf("items = %+v", body.Items)
		}
	})

	t.Run("BalanceByInstrument", func(t *testing.T) {
		var body struct {
			Items []ledger.BalanceHistoryItem `json:"items"`
		}
		get(t, ts, "/v1/user-reserves/"+urID+"/history", &body)
		if len(body.Items) != 3 {
			t.Errorf("all instruments: %d items, want 3", len(body.Items))
		}
		body.Items = nil
		get(t, ts, "/v1/user-reserves/"+urID+"/history?instrument=vToken", &body)
		if len(body.Items) != 1 || body.Items[0].Instrument != ledger.InstrumentVToken {
			t.Errorf("vToken items = %+v", body.Items)
		}
		if code := get(t, ts, "/v1/user-reserves/"+urID+"/history?instrument=nft", nil); code != http.StatusBadRequest {
			t.Errorf("bad instrument status = %d", code)
		}
	})
}

func TestCheckpointEndpoint(t *testing.T) {
	store, ts := setupTestServer(t)
	if code := get(t, ts, "/v1/checkpoint", nil); code != http.StatusNotFound {
		t.Errorf("status before replay = %d, want 404", code)
	}
	raw := `{"runId":"r1","position":{"block":7,"txIndex":1,"logIndex":2},"eventsApplied":3}`
	if err := store.PutMeta(context.Background(), feed.CheckpointKey, []byte(raw)); err != nil {
		t.Fatalf("Failed to put checkpoint: %v", err)
	}
	var cp feed.Checkpoint
	if code := get(t, ts, "/v1/checkpoint", &cp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if cp.RunID != "r1" || cp.Position.Block != 7 || cp.EventsApplied != 3 {
		t.Errorf("checkpoint = %+v", cp)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := setupTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/v1/protocol", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to send preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
