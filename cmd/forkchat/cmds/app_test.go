package cmds

import (
	"path/filepath"
	"testing"

	"github.com/go-go-golems/forkchat/pkg/config"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/forkchat/pkg/persistence/httpstore"
	"github.com/go-go-golems/forkchat/pkg/persistence/sqlstore"
	"github.com/go-go-golems/forkchat/pkg/transport/echo"
	"github.com/go-go-golems/forkchat/pkg/transport/langchain"
	"github.com/go-go-golems/forkchat/pkg/transport/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s, err := config.NewSettings()
	require.NoError(t, err)
	return s
}

func TestNewTransport(t *testing.T) {
	s := testSettings(t)

	tr, err := NewTransport(s)
	require.NoError(t, err)
	assert.IsType(t, &echo.Transport{}, tr)

	s.Transport.Kind = "openai"
	_, err = NewTransport(s)
	assert.Error(t, err)

	s.Transport.APIKey = "sk-test"
	tr, err = NewTransport(s)
	require.NoError(t, err)
	assert.IsType(t, &openai.Transport{}, tr)

	s.Transport.Kind = "ollama"
	s.Transport.Model = "llama3"
	tr, err = NewTransport(s)
	require.NoError(t, err)
	assert.IsType(t, &langchain.Transport{}, tr)

	s.Transport.Kind = "carrier-pigeon"
	_, err = NewTransport(s)
	assert.Error(t, err)
}

func TestOpenRemote(t *testing.T) {
	s := testSettings(t)

	remote, closeRemote, err := OpenRemote(s)
	require.NoError(t, err)
	assert.Nil(t, remote)
	assert.Nil(t, closeRemote)

	s.Remote.Kind = "sqlite"
	_, _, err = OpenRemote(s)
	assert.Error(t, err)

	s.Remote.DSN = filepath.Join(t.TempDir(), "remote.db")
	remote, closeRemote, err = OpenRemote(s)
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Store{}, remote)
	require.NoError(t, closeRemote())

	s.Remote.Kind = "http"
	s.Remote.URL = "http://localhost:8080"
	remote, _, err = OpenRemote(s)
	require.NoError(t, err)
	assert.IsType(t, &httpstore.Client{}, remote)
}

func TestOpenApp_PebbleCacheSurvivesRestart(t *testing.T) {
	s := testSettings(t)
	s.Cache.Dir = t.TempDir()

	app, err := OpenApp(s)
	require.NoError(t, err)
	assert.IsType(t, &persistence.PebbleCache{}, app.Cache)
	run := func(a *App) string {
		ctrl, err := a.NewController(&echo.Transport{})
		require.NoError(t, err)
		defer ctrl.Close()
		require.NoError(t, ctrl.Restore())
		return ctrl.ConversationID()
	}
	id := run(app)
	require.NoError(t, app.Close())

	app, err = OpenApp(s)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()
	assert.Equal(t, id, run(app))
}
