package oidc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testIssuer = "https://accounts.example.test"

func unsignedToken(claims map[string]interface{}) string {
	b, _ := json.Marshal(claims)
	return "hdr." + base64.RawURLEncoding.EncodeToString(b) + ".sig"
}

func TestInsecureVerifier_ParsesClaims(t *testing.T) {
	raw := unsignedToken(map[string]interface{}{"sub": "g-1", "email": "bo@example.com", "name": "Bo", "picture": "p.png"})
	id, err := NewInsecureVerifier().Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "g-1", id.Subject)
	require.Equal(t, "bo@example.com", id.Email)
	require.Equal(t, "Bo", id.Name)
	require.Equal(t, "p.png", id.Picture)
}

func TestInsecureVerifier_Rejects(t *testing.T) {
	v := NewInsecureVerifier()
	_, err := v.Verify(context.Background(), "nodots")
	require.Error(t, err)
	_, err = v.Verify(context.Background(), "a.!!!.c")
	require.Error(t, err)
	_, err = v.Verify(context.Background(), unsignedToken(map[string]interface{}{"email": "x@example.com"}))
	require.Error(t, err)
}

func signedIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func staticVerifier(key *rsa.PrivateKey, clientID string) *Verifier {
	ks := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return &Verifier{verifier: oidc.NewVerifier(testIssuer, ks, &oidc.Config{ClientID: clientID})}
}

func TestVerifier_ValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := staticVerifier(key, "client-1")

	raw := signedIDToken(t, key, jwt.MapClaims{
		"iss": testIssuer, "aud": "client-1", "sub": "g-42",
		"email": "asha@example.com", "email_verified": true, "name": "Asha",
		"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
	})
	id, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "g-42", id.Subject)
	require.Equal(t, "asha@example.com", id.Email)
	require.True(t, id.EmailVerified)
}

func TestVerifier_RejectsWrongAudienceAndExpired(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := staticVerifier(key, "client-1")

	wrongAud := signedIDToken(t, key, jwt.MapClaims{
		"iss": testIssuer, "aud": "someone-else", "sub": "g-1",
		"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(context.Background(), wrongAud)
	require.Error(t, err)

	expired := signedIDToken(t, key, jwt.MapClaims{
		"iss": testIssuer, "aud": "client-1", "sub": "g-1",
		"iat": time.Now().Add(-2 * time.Hour).Unix(), "exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = v.Verify(context.Background(), expired)
	require.Error(t, err)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged := signedIDToken(t, other, jwt.MapClaims{
		"iss": testIssuer, "aud": "client-1", "sub": "g-1",
		"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(context.Background(), forged)
	require.Error(t, err)
}

func TestGoogleFlow_AuthCodeURLCarriesState(t *testing.T) {
	g := NewGoogleFlow("cid", "secret", "http://localhost/cb", GoogleEndpoint, NewInsecureVerifier())
	u, err := url.Parse(g.AuthCodeURL("st-1"))
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "st-1", q.Get("state"))
	require.Equal(t, "cid", q.Get("client_id"))
	require.Equal(t, "http://localhost/cb", q.Get("redirect_uri"))
	require.Contains(t, q.Get("scope"), "email")
}

func TestGoogleFlow_Exchange(t *testing.T) {
	idToken := unsignedToken(map[string]interface{}{"sub": "g-7", "email": "bo@example.com", "name": "Bo", "email_verified": true})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at", "token_type": "Bearer", "expires_in": 3600, "id_token": idToken,
		})
	}))
	defer srv.Close()

	g := NewGoogleFlow("cid", "secret", "http://localhost/cb",
		oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		NewInsecureVerifier())

	id, err := g.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	require.Equal(t, "g-7", id.Subject)
	require.Equal(t, "bo@example.com", id.Email)

	_, err = g.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
}

func TestGoogleFlow_ExchangeRejectsUnverifiedEmail(t *testing.T) {
	idToken := unsignedToken(map[string]interface{}{"sub": "g-8", "email": "cy@example.com", "email_verified": false})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "at", "token_type": "Bearer", "id_token": idToken})
	}))
	defer srv.Close()

	g := NewGoogleFlow("cid", "secret", "http://localhost/cb",
		oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		NewInsecureVerifier())
	_, err := g.Exchange(context.Background(), "code")
	require.ErrorContains(t, err, "not verified")
}

func TestGoogleFlow_ExchangeWithoutIDToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "at", "token_type": "Bearer"})
	}))
	defer srv.Close()

	g := NewGoogleFlow("cid", "secret", "http://localhost/cb",
		oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		NewInsecureVerifier())
	_, err := g.Exchange(context.Background(), "code")
	require.Error(t, err)
}
