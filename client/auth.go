package client

import (
	"fmt"
	mathrand "math/rand"
	"net/http"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ClientTag derives a short identifier used in log lines and message
// ids. When an auth token is present its client_id or sub claim is
// used, unverified; the tag is cosmetic and the server does its own
// validation. Without a usable token a random tag is generated.
func ClientTag(authToken string) string {
	if authToken != "" {
		parser := gojwt.NewParser()
		token, _, err := parser.ParseUnverified(authToken, gojwt.MapClaims{})
		if err == nil {
			claims := token.Claims.(gojwt.MapClaims)
			if clientId, ok := claims["client_id"].(string); ok && clientId != "" {
				return clientId
			}
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				return sub
			}
		}
	}
	return fmt.Sprintf("go_client_%06x", mathrand.Intn(1<<24))
}

func authHeader(authToken string) http.Header {
	if authToken == "" {
		return nil
	}
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", authToken))
	return header
}
