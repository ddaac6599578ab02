package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConnector remembers every Connect call
type fakeConnector struct {
	params []connectParams
}

func (f *fakeConnector) Connect(params connectParams) {
	f.params = append(f.params, params)
}

func TestParseHandshake(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    settings
		wantErr error
	}{
		{
			name: "complete",
			url:  "data:,xltParameters?xltPort=8443&clientID=abc-123&recordIncompleted=true&useSessionStorage=TRUE",
			want: settings{
				RecordIncompleted: true,
				UseSessionStorage: true,
				Connect:           &connectParams{Port: "8443", ClientID: "abc-123"},
			},
		},
		{
			name: "defaults",
			url:  "data:,xltParameters?clientID=abc&xltPort=1#ignored",
			want: settings{Connect: &connectParams{Port: "1", ClientID: "abc"}},
		},
		{
			name:    "missing client id",
			url:     "data:,xltParameters?xltPort=8443&recordIncompleted=true",
			want:    settings{RecordIncompleted: true},
			wantErr: errIncompleteHandshake,
		},
		{
			name:    "no query",
			url:     "data:,xltParameters",
			wantErr: errIncompleteHandshake,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHandshake(tt.url)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseHandshake_NotHandshake(t *testing.T) {
	_, err := parseHandshake("https://example.com/?xltPort=1&clientID=a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errIncompleteHandshake)
}

func TestApplyHandshake(t *testing.T) {
	t.Run("connects", func(t *testing.T) {
		agg := newAggregator(nil)
		conn := &fakeConnector{}

		applyHandshake("data:,xltParameters?xltPort=9000&clientID=c1&useSessionStorage=true", agg, conn)

		assert.True(t, agg.Settings().UseSessionStorage)
		assert.Equal(t, []connectParams{{Port: "9000", ClientID: "c1"}}, conn.params)
	})

	t.Run("incomplete still configures", func(t *testing.T) {
		agg := newAggregator(nil)
		conn := &fakeConnector{}

		applyHandshake("data:,xltParameters?recordIncompleted=true", agg, conn)

		assert.True(t, agg.Settings().RecordIncompleted)
		assert.Nil(t, agg.Settings().Connect)
		assert.Empty(t, conn.params)
	})

	t.Run("not a handshake", func(t *testing.T) {
		agg := newAggregator(nil)
		agg.Configure(settings{RecordIncompleted: true})
		conn := &fakeConnector{}

		applyHandshake("https://example.com/", agg, conn)

		assert.True(t, agg.Settings().RecordIncompleted)
		assert.Empty(t, conn.params)
	})
}
