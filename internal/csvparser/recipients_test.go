package csvparser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadPulse/internal/models"
)

func TestParseSubscribers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []models.Subscriber
		wantErr string
	}{
		{
			name:  "email only defaults",
			input: "Email\nA@Example.com\n",
			want: []models.Subscriber{
				{Email: "a@example.com", Category: models.CategoryGeneral, Active: true},
			},
		},
		{
			name: "all columns in any order",
			input: "active, name, EMAIL, category\n" +
				"false,Bob,bob@example.com,general\n" +
				"yes,Eve,eve@example.com,press\n",
			wantErr: `line 3: invalid Active value "yes"`,
		},
		{
			name: "skips blank and malformed rows",
			input: "Name,Email,Category,Active\n" +
				"Ada,ada@example.com,General,true\n" +
				"NoMail,,general,true\n" +
				"short,row\n" +
				"Bob,bob@example.com,,0\n",
			want: []models.Subscriber{
				{Email: "ada@example.com", Name: "Ada", Category: "general", Active: true},
				{Email: "bob@example.com", Name: "Bob", Category: "general", Active: false},
			},
		},
		{
			name:    "missing email column",
			input:   "Name,Category\nAda,general\n",
			wantErr: "Email column",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: "header row is missing",
		},
		{
			name:  "header only",
			input: "Email\n",
			want:  []models.Subscriber{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSubscribers(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadSubscribers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribers.csv")
	require.NoError(t, os.WriteFile(path, []byte("email,name\nsales@example.com,Sales\n"), 0o600))

	subs, err := LoadSubscribers(path)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Sales", subs[0].Name)

	_, err = LoadSubscribers(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
