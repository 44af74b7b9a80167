package services

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/shafiqahmeddev/lqap-project/protocol"
)

func testRecord(id, domain string) *IdentityRecord {
	return &IdentityRecord{
		IdentityID: id,
		Role:       protocol.RoleEV,
		Domain:     domain,
		MerkleRoot: "00ff",
		EnrolledAt: time.Now().UTC(),
	}
}

func TestRegistrySaveAndGet(t *testing.T) {
	registry, err := NewIdentityRegistry(nil)
	require.NoError(t, err)

	require.NoError(t, registry.Save(testRecord("ev-1", "domain-a")))
	require.NoError(t, registry.Save(testRecord("ev-2", "domain-b")))

	record, ok := registry.Get("ev-1")
	require.True(t, ok)
	require.Equal(t, "domain-a", record.Domain)

	_, ok = registry.Get("ev-404")
	require.False(t, ok)

	require.Len(t, registry.All(""), 2)
	require.Len(t, registry.All("domain-b"), 1)

	require.NoError(t, registry.Delete("ev-1"))
	_, ok = registry.Get("ev-1")
	require.False(t, ok)
}

func TestRegistryRejectsInvalidRole(t *testing.T) {
	registry, err := NewIdentityRegistry(nil)
	require.NoError(t, err)

	record := testRecord("ev-1", "domain-a")
	record.Role = protocol.Role("toaster")
	require.Error(t, registry.Save(record))
}

func TestRegistryHTTPRoutes(t *testing.T) {
	registry, err := NewIdentityRegistry(nil)
	require.NoError(t, err)
	require.NoError(t, registry.Save(testRecord("ev-1", "domain-a")))

	router := chi.NewRouter()
	registry.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/identities/ev-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	record, err := protocol.DecodeMessage[IdentityRecord](resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ev-1", record.IdentityID)

	missing, err := http.Get(srv.URL + "/api/identities/ev-404")
	require.NoError(t, err)
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)

	list, err := http.Get(srv.URL + "/api/identities?domain=domain-a")
	require.NoError(t, err)
	defer list.Body.Close()
	records, err := protocol.DecodeMessage[[]*IdentityRecord](list.Body)
	require.NoError(t, err)
	require.Len(t, *records, 1)
}
