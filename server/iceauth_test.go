package server_test

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"
	"time"

	"github.com/classcall/classcall/server"
	"github.com/classcall/classcall/server/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetICEAuthServers_noAuth(t *testing.T) {
	servers := server.GetICEAuthServers(clock.New(), []server.ICEServer{{
		URLs: []string{"stun:stun.l.google.com:19302"},
	}})

	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, servers[0].URLs)
	assert.Empty(t, servers[0].Username)
	assert.Empty(t, servers[0].Credential)
}

func TestGetICEAuthServers_secret(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	iceServer := server.ICEServer{
		URLs:     []string{"turn:turn.example.com:3478"},
		AuthType: server.AuthTypeSecret,
	}
	iceServer.AuthSecret.Username = "classcall"
	iceServer.AuthSecret.Secret = "secret123"

	servers := server.GetICEAuthServers(clk, []server.ICEServer{iceServer})

	require.Len(t, servers, 1)

	timestamp := clk.Now().UnixNano() / 1_000_000
	expectedUsername := "1709287200000:classcall"
	require.Equal(t, timestamp, int64(1709287200000))
	assert.Equal(t, expectedUsername, servers[0].Username)

	h := hmac.New(sha1.New, []byte("secret123"))
	h.Write([]byte(expectedUsername))
	assert.Equal(t, base64.StdEncoding.EncodeToString(h.Sum(nil)), servers[0].Credential)
}

func TestWebRTCICEServers(t *testing.T) {
	servers := server.WebRTCICEServers([]server.ICEAuthServer{{
		URLs:       []string{"turn:turn.example.com:3478"},
		Username:   "user",
		Credential: "pass",
	}, {
		URLs: []string{"stun:stun.l.google.com:19302"},
	}})

	require.Len(t, servers, 2)
	assert.Equal(t, "user", servers[0].Username)
	assert.Equal(t, "pass", servers[0].Credential)
	assert.Nil(t, servers[1].Credential)
}
