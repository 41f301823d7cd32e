package server

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"

	"github.com/classcall/classcall/server/clock"
	"github.com/pion/webrtc/v3"
)

// ICEAuthServer is an ICE server entry with computed credentials, in the
// shape peer connections consume.
type ICEAuthServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// GetICEAuthServers resolves configured ICE servers into entries with
// short-lived credentials where the auth type requires them.
func GetICEAuthServers(clk clock.Clock, servers []ICEServer) (result []ICEAuthServer) {
	for _, server := range servers {
		result = append(result, getICEAuthServer(clk, server))
	}

	return result
}

func getICEAuthServer(clk clock.Clock, server ICEServer) ICEAuthServer {
	switch server.AuthType {
	case AuthTypeSecret:
		return getICEStaticAuthSecretCredentials(clk, server)
	default:
		return ICEAuthServer{URLs: server.URLs}
	}
}

// getICEStaticAuthSecretCredentials implements the TURN REST static auth
// secret scheme: username is "<unix millis>:<user>" and the credential is
// the base64 HMAC-SHA1 of the username keyed with the shared secret.
func getICEStaticAuthSecretCredentials(clk clock.Clock, server ICEServer) ICEAuthServer {
	timestamp := clk.Now().UnixNano() / 1_000_000
	username := fmt.Sprintf("%d:%s", timestamp, server.AuthSecret.Username)

	h := hmac.New(sha1.New, []byte(server.AuthSecret.Secret))
	h.Write([]byte(username))

	credential := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return ICEAuthServer{
		URLs:       server.URLs,
		Username:   username,
		Credential: credential,
	}
}

// WebRTCICEServers converts resolved entries into the pion configuration
// type.
func WebRTCICEServers(servers []ICEAuthServer) []webrtc.ICEServer {
	result := make([]webrtc.ICEServer, 0, len(servers))

	for _, server := range servers {
		entry := webrtc.ICEServer{
			URLs:     server.URLs,
			Username: server.Username,
		}

		if server.Credential != "" {
			entry.Credential = server.Credential
		}

		result = append(result, entry)
	}

	return result
}
