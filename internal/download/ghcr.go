package download

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// isOCIRegistry reports whether host belongs to an OCI-style container
// registry class (§4.5: "ghcr.io"-class hosts get the bearer-token flow
// instead of a plain HEAD/GET).
func isOCIRegistry(host string) bool {
	return host == "ghcr.io" || strings.HasSuffix(host, ".ghcr.io") ||
		host == "pkg-containers.githubusercontent.com"
}

// wwwAuthenticateBearer is the shape of a Www-Authenticate: Bearer header:
// Bearer realm="…", service="…", scope="…".
type wwwAuthenticateBearer struct {
	Realm   string
	Service string
	Scope   string
}

var bearerParamPattern = regexp.MustCompile(`(\w+)="([^"]*)"`)

// parseWWWAuthenticate extracts realm/service/scope from a Bearer challenge
// header. Returns false if the header isn't a Bearer challenge.
func parseWWWAuthenticate(header string) (wwwAuthenticateBearer, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return wwwAuthenticateBearer{}, false
	}
	var b wwwAuthenticateBearer
	for _, m := range bearerParamPattern.FindAllStringSubmatch(header, -1) {
		switch m[1] {
		case "realm":
			b.Realm = m[2]
		case "service":
			b.Service = m[2]
		case "scope":
			b.Scope = m[2]
		}
	}
	if b.Realm == "" {
		return wwwAuthenticateBearer{}, false
	}
	return b, true
}

// fetchBearerToken implements the §4.5 OCI bearer flow: exchange the
// challenge's realm/service/scope for a short-lived token. A response with
// no errors[] and no token/access_token is locally recoverable (§7): it
// returns ("", nil) so the caller falls back to an unauthenticated
// request instead of failing the download outright.
func fetchBearerToken(ctx context.Context, client *http.Client, challenge wwwAuthenticateBearer) (string, error) {
	tokenURL := fmt.Sprintf("%s?service=%s&scope=%s", challenge.Realm, challenge.Service, challenge.Scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching bearer token: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		Errors      []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("parsing token response: %w", err)
	}
	if len(body.Errors) > 0 {
		return "", &BottleNotAccessible{URL: tokenURL, Reason: body.Errors[0].Message}
	}
	if body.Token != "" {
		return body.Token, nil
	}
	if body.AccessToken != "" {
		return body.AccessToken, nil
	}
	// No errors[] and no token: not a hard failure, fall back to
	// unauthenticated access per §7.
	return "", nil
}

// resolveOCIAuthorization performs the initial HEAD and, if it demands
// bearer authentication, exchanges it for a token. It returns the
// Authorization header value to use (empty if the HEAD didn't require
// one); the HEAD response itself is not returned.
func resolveOCIAuthorization(ctx context.Context, client *http.Client, url string) (authorization string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", fmt.Errorf("building HEAD request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HEAD %s: %w", url, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		return "", nil
	}

	challenge, ok := parseWWWAuthenticate(resp.Header.Get("Www-Authenticate"))
	if !ok {
		return "", &BottleNotAccessible{URL: url, Reason: "401 without a Bearer challenge"}
	}
	token, err := fetchBearerToken(ctx, client, challenge)
	if err != nil {
		return "", err
	}
	if token == "" {
		// Locally recovered: proceed unauthenticated rather than fail.
		return "", nil
	}
	return "Bearer " + token, nil
}
