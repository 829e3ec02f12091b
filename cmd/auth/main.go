// Package main provides the Spotify authorization tool.
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/shiomiya/skipbeat/internal/infra/config"
	"github.com/shiomiya/skipbeat/internal/infra/credential"
)

var (
	app        = kingpin.New("skipbeat-auth", "Spotify authorization tool for skipbeat")
	configPath = app.Flag("config", "Path to config file").Default("config/config.yaml").String()

	auth     *spotifyauth.Authenticator
	verifier string
	state    string
	ch       = make(chan *oauth2.Token)
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redirect, err := url.Parse(cfg.Spotify.RedirectURI)
	if err != nil {
		log.Fatalf("Invalid redirect URI: %v", err)
	}

	// PKCE: the app is a public client, so the code exchange is bound to a
	// one-time verifier instead of a client secret.
	verifier = randomToken(64)
	state = randomToken(16)
	challenge := base64.RawURLEncoding.EncodeToString(func() []byte {
		sum := sha256.Sum256([]byte(verifier))
		return sum[:]
	}())

	auth = spotifyauth.New(
		spotifyauth.WithClientID(cfg.Spotify.ClientID),
		spotifyauth.WithRedirectURL(cfg.Spotify.RedirectURI),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserModifyPlaybackState,
		),
	)

	// Serve the callback on the host/port the redirect URI names.
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}
	http.HandleFunc(callbackPath, completeAuth)

	server := &http.Server{Addr: redirect.Host}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start callback server: %v", err)
		}
	}()

	authURL := auth.AuthURL(state,
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("code_challenge", challenge),
	)
	fmt.Println("Please visit the following URL to authorize skipbeat:")
	fmt.Println("")
	fmt.Println(authURL)
	fmt.Println("")
	fmt.Println("Waiting for authorization...")

	token := <-ch

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown callback server: %v", err)
	}

	store := credential.NewStore(cfg.Storage.CredentialFile)
	if err := store.Save(credential.FromToken(token, "")); err != nil {
		log.Fatalf("Failed to save credential: %v", err)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	fmt.Printf("Credential saved to %s\n", cfg.Storage.CredentialFile)
	fmt.Println("Start (or restart) skipbeat-server to pick it up.")
}

func completeAuth(w http.ResponseWriter, r *http.Request) {
	token, err := auth.Token(r.Context(), state, r,
		oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusForbidden)
		log.Printf("Failed to get token: %v", err)
		return
	}

	if st := r.FormValue("state"); st != state {
		http.Error(w, "State mismatch", http.StatusForbidden)
		log.Printf("State mismatch: %s != %s", st, state)
		return
	}

	fmt.Fprint(w, `
<!DOCTYPE html>
<html>
<head>
    <title>skipbeat - Authorization Complete</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: linear-gradient(135deg, #1DB954 0%, #191414 100%);
            color: white;
        }
        .container {
            text-align: center;
            padding: 40px;
            background: rgba(0, 0, 0, 0.5);
            border-radius: 16px;
        }
        h1 { margin-bottom: 20px; }
        p { opacity: 0.8; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorization Complete</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`)

	ch <- token
}

// randomToken returns n bytes of randomness as unpadded base64url.
func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("Failed to generate random token: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
