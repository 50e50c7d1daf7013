package sqlite_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/tokenclaim/internal/storage/sqlite"
)

func TestStoreManager_GetStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-manager-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	manager := sqlite.NewStoreManager(tmpDir)
	defer manager.CloseAll()

	store1, err := manager.GetStore("did:key:z6MkAuthority")
	require.NoError(t, err)
	require.NotNil(t, store1)

	// Get same store again - should be cached
	store2, err := manager.GetStore("did:key:z6MkAuthority")
	require.NoError(t, err)
	assert.Same(t, store1, store2)

	viaProvider, err := manager.GetRegistryStore("did:key:z6MkAuthority")
	require.NoError(t, err)
	assert.Same(t, store1, viaProvider)
}

func TestStoreManager_MultipleStores(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-manager-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	manager := sqlite.NewStoreManager(tmpDir)
	defer manager.CloseAll()

	store1, err := manager.GetStore("did:key:z6MkAuthority1")
	require.NoError(t, err)

	store2, err := manager.GetStore("did:key:z6MkAuthority2")
	require.NoError(t, err)

	assert.NotSame(t, store1, store2)
	assert.NotEqual(t, store1.DBPath(), store2.DBPath())
	assert.Equal(t, "did:key:z6MkAuthority1", store1.Authority().String())
}

func TestStoreManager_CloseAll(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-manager-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	manager := sqlite.NewStoreManager(tmpDir)

	_, err = manager.GetStore("did:key:z6MkAuthority1")
	require.NoError(t, err)

	_, err = manager.GetStore("did:key:z6MkAuthority2")
	require.NoError(t, err)

	err = manager.CloseAll()
	assert.NoError(t, err)
}
