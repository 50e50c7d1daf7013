package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/tokenclaim/internal/storage/sqlite"
	"github.com/relves/tokenclaim/pkg/claims"
	"github.com/relves/tokenclaim/pkg/derive"
	"github.com/relves/tokenclaim/pkg/ledger"
	"github.com/relves/tokenclaim/pkg/server"
	"github.com/relves/tokenclaim/pkg/types"
)

const testAuthority = types.Identity("did:key:z6MkTestAuthority")

type httpFixture struct {
	svc *claims.Service
	mux *http.ServeMux
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	program := derive.ProgramID("tokenclaim-test")

	stores := sqlite.NewStoreManager(dir)
	t.Cleanup(func() { stores.CloseAll() })

	ledgerStore, err := sqlite.OpenLedgerStore(dir, program)
	require.NoError(t, err)
	t.Cleanup(func() { ledgerStore.Close() })

	svc, err := claims.NewService(claims.Config{
		Stores:    stores,
		Ledger:    ledgerStore,
		ProgramID: program,
	})
	require.NoError(t, err)

	_, err = svc.CreateRegistry(ctx, testAuthority, 7)
	require.NoError(t, err)

	// Fund the escrow and redeem nonce 3
	mintAuth, err := ledger.GenerateKeySigner()
	require.NoError(t, err)
	mint := types.Address{0x4D}
	require.NoError(t, ledgerStore.CreateMint(ctx, mint, mintAuth.Address(), 0))
	escrowOwner, _, err := svc.RegistryAddress(testAuthority, 7)
	require.NoError(t, err)
	escrow, err := ledgerStore.OpenAccount(ctx, escrowOwner, mint)
	require.NoError(t, err)
	require.NoError(t, ledgerStore.MintTo(ctx, mint, escrow, 10, mintAuth))
	dest, err := ledgerStore.OpenAccount(ctx, types.Address{0xDE}, mint)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, claims.ClaimRequest{
		Invoker:            testAuthority,
		Authority:          testAuthority,
		CampaignID:         7,
		Nonce:              3,
		Amount:             10,
		Mint:               mint,
		DestinationAccount: dest,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	server.NewHTTPHandler(svc).Register(mux)
	return &httpFixture{svc: svc, mux: mux}
}

func (f *httpFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func TestHandleGetRegistry_Success(t *testing.T) {
	f := newHTTPFixture(t)

	w := f.get(t, "/registries/"+testAuthority.String()+"/7")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	registry, _, err := f.svc.RegistryAddress(testAuthority, 7)
	require.NoError(t, err)
	assert.Equal(t, registry.String(), resp["address"])
	assert.Equal(t, registry.String(), resp["escrow_authority"])
	assert.Equal(t, float64(8192), resp["capacity"])
	assert.Equal(t, float64(1), resp["claimed_count"])
	assert.Equal(t, float64(2), resp["journal_size"])
	assert.Len(t, resp["journal_root"], 64)
}

func TestHandleGetRegistry_NotFound(t *testing.T) {
	f := newHTTPFixture(t)

	w := f.get(t, "/registries/"+testAuthority.String()+"/8")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetRegistry_BadCampaign(t *testing.T) {
	f := newHTTPFixture(t)

	w := f.get(t, "/registries/"+testAuthority.String()+"/abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetStatus(t *testing.T) {
	f := newHTTPFixture(t)
	base := "/registries/" + testAuthority.String() + "/7/nonces/"

	tests := []struct {
		nonce  string
		code   int
		status string
	}{
		{"3", http.StatusOK, "Claimed"},
		{"4", http.StatusOK, "Unclaimed"},
		{"8192", http.StatusBadRequest, ""},
		{"x", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.nonce, func(t *testing.T) {
			w := f.get(t, base+tt.nonce)
			require.Equal(t, tt.code, w.Code)
			if tt.status == "" {
				return
			}
			var resp server.StatusResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestHandleGetEvents(t *testing.T) {
	f := newHTTPFixture(t)
	base := "/registries/" + testAuthority.String() + "/7/events"

	w := f.get(t, base)
	require.Equal(t, http.StatusOK, w.Code)
	var events []server.EventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, string(types.EventRegistryCreated), events[0].Type)
	assert.Equal(t, string(types.EventTokenClaimed), events[1].Type)
	assert.Equal(t, uint64(1), events[1].Index)

	w = f.get(t, base+"?from=1&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)

	w = f.get(t, base+"?limit=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
