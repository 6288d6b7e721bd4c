package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"storyforge/backend/libs/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DOTENV_FILE", "")
	t.Setenv("CREDITS_STORAGE_DRIVER", "sqlite")
	t.Setenv("CREDITS_SQLITE_PATH", filepath.Join(t.TempDir(), "credits.db"))
}

func TestMigrateAdjustStatus(t *testing.T) {
	useSQLite(t)

	out, err := run(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "schema at version 1")

	out, err = run(t, "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(out))

	out, err = run(t, "adjust", "--user", "u-1", "--amount", "12", "--reason", "goodwill", "--actor", "ops")
	require.NoError(t, err)
	var adjusted map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &adjusted))
	assert.EqualValues(t, 12, adjusted["new_bonus_total"])

	out, err = run(t, "status", "--user", "u-1", "--history", "5")
	require.NoError(t, err)
	var status struct {
		Status struct {
			BonusCreditsTotal int64 `json:"bonus_credits_total"`
		} `json:"status"`
		Transactions []map[string]interface{} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.EqualValues(t, 12, status.Status.BonusCreditsTotal)
	require.Len(t, status.Transactions, 1)
	assert.Equal(t, "admin_adjustment", status.Transactions[0]["transaction_type"])

	out, err = run(t, "sweep", "--older-than", "1m")
	require.NoError(t, err)
	assert.Contains(t, out, "scanned")
}

func TestAdjustRequiresFlags(t *testing.T) {
	useSQLite(t)
	_, err := run(t, "adjust", "--user", "u-1")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--user", "u-7", "--role", "admin", "--secret", "topsecret")
	require.NoError(t, err)

	claims, err := auth.NewTokenService("topsecret", 0).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u-7", claims.UserID)
	assert.True(t, claims.IsAdmin())

	t.Setenv(jwtSecretEnv, "")
	_, err = run(t, "token", "--user", "u-7")
	assert.Error(t, err)
}

func TestHashKeyCommand(t *testing.T) {
	out, err := run(t, "hash-key", "--cost", "4", "0123456789abcdef")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("0123456789abcdef")))

	_, err = run(t, "hash-key", "short")
	assert.Error(t, err)
}
