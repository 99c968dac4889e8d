package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) (*httptest.Server, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	server := httptest.NewServer(NewHTTPServer(env.service, "*").Handler())
	t.Cleanup(server.Close)
	return server, env
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func loginToken(t *testing.T, server *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/session/login", "", map[string]any{"name": "Robin"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body = %#v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("body = %#v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ready" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server, _ := newTestServer(t)

	for _, route := range []string{"/api/documents", "/api/search?q=x", "/api/datatypes"} {
		resp, body := doJSON(t, http.MethodGet, server.URL+route, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", route, resp.StatusCode)
		}
		if body["code"] != "UNAUTHORIZED" {
			t.Errorf("%s code = %v", route, body["code"])
		}
	}
}

func TestSessionEndpointReportsIdentity(t *testing.T) {
	server, _ := newTestServer(t)
	token := loginToken(t, server)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/session", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["authenticated"] != true || body["userName"] != "Robin" {
		t.Errorf("body = %#v", body)
	}

	// No token gives an anonymous answer, not a 401.
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/session", "", nil)
	if resp.StatusCode != http.StatusOK || body["authenticated"] != false {
		t.Errorf("anonymous session: status = %d, body = %#v", resp.StatusCode, body)
	}
}

func TestSignUpThenSignIn(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]any{
		"email":       "casey@example.com",
		"password":    "long-enough-pass",
		"displayName": "Casey",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, body = %#v", resp.StatusCode, body)
	}
	if accessToken, _ := body["accessToken"].(string); accessToken == "" {
		t.Error("signup returned no access token")
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]any{
		"email":       "casey@example.com",
		"password":    "long-enough-pass",
		"displayName": "Casey",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate signup status = %d, want 409", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "casey@example.com",
		"password": "long-enough-pass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d, body = %#v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "casey@example.com",
		"password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad signin status = %d, want 401", resp.StatusCode)
	}
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	token := loginToken(t, server)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/documents", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	documents := body["documents"].([]any)
	if len(documents) != 1 {
		t.Fatalf("documents = %d, want 1", len(documents))
	}
	docID := documents[0].(map[string]any)["id"].(string)

	resp, view := doJSON(t, http.MethodGet, server.URL+"/api/documents/"+docID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view status = %d", resp.StatusCode)
	}
	root := view["root"].(map[string]any)
	section := root["children"].([]any)[0].(map[string]any)
	article := section["children"].([]any)[0].(map[string]any)
	articleID := article["id"].(string)

	blockURL := fmt.Sprintf("%s/api/documents/%s/blocks/%s", server.URL, docID, articleID)

	resp, edit := doJSON(t, http.MethodPost, blockURL+"/fields", token, map[string]any{
		"fieldId": "title",
		"value":   "Updated over HTTP",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit status = %d, body = %#v", resp.StatusCode, edit)
	}
	if edit["dirty"] != true {
		t.Errorf("edit response = %#v", edit)
	}

	resp, saved := doJSON(t, http.MethodPost, blockURL+"/save", token, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, body = %#v", resp.StatusCode, saved)
	}

	resp, view = doJSON(t, http.MethodGet, server.URL+"/api/documents/"+docID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reload status = %d", resp.StatusCode)
	}
	root = view["root"].(map[string]any)
	section = root["children"].([]any)[0].(map[string]any)
	article = section["children"].([]any)[0].(map[string]any)
	for _, raw := range article["fields"].([]any) {
		field := raw.(map[string]any)
		if field["fieldId"] == "title" && field["value"] != "Updated over HTTP" {
			t.Errorf("title after save = %v", field["value"])
		}
	}
}

func TestInsertAndDeleteBlockOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	token := loginToken(t, server)

	resp, view := doJSON(t, http.MethodGet, server.URL+"/api/documents/doc_welcome", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view status = %d", resp.StatusCode)
	}
	root := view["root"].(map[string]any)
	sectionID := root["children"].([]any)[0].(map[string]any)["id"].(string)

	resp, updated := doJSON(t, http.MethodPost, server.URL+"/api/documents/doc_welcome/blocks", token, map[string]any{
		"parentId":   sectionID,
		"datatypeId": "dt_article",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("insert status = %d, body = %#v", resp.StatusCode, updated)
	}
	section := updated["root"].(map[string]any)["children"].([]any)[0].(map[string]any)
	articles := section["children"].([]any)
	if len(articles) != 2 {
		t.Fatalf("articles after insert = %d, want 2", len(articles))
	}
	newID := articles[1].(map[string]any)["id"].(string)

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/documents/doc_welcome/blocks/"+newID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
}

func TestStructuralErrorsMapTo422(t *testing.T) {
	server, _ := newTestServer(t)
	token := loginToken(t, server)

	resp, body := doJSON(t, http.MethodDelete, server.URL+"/api/documents/doc_welcome/blocks/blk_welcome_root", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("delete root status = %d, want 422", resp.StatusCode)
	}
	if body["code"] != "STRUCTURAL_ERROR" {
		t.Errorf("code = %v", body["code"])
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/documents/doc_welcome/blocks", token, map[string]any{
		"parentId":   "blk_missing",
		"datatypeId": "dt_article",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("insert under missing parent status = %d, want 404", resp.StatusCode)
	}
	if body["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestUnknownDocument404(t *testing.T) {
	server, _ := newTestServer(t)
	token := loginToken(t, server)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/documents/doc_nope", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestExportValidation(t *testing.T) {
	server, _ := newTestServer(t)
	token := loginToken(t, server)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/documents/doc_welcome/export", token, map[string]any{
		"format": "epub",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", body["code"])
	}

	// Link exports need object storage, which tests do not configure.
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/documents/doc_welcome/export", token, map[string]any{
		"format": "html",
		"link":   true,
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("link export status = %d, want 503", resp.StatusCode)
	}
	if body["code"] != "STORAGE_UNAVAILABLE" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestDatatypesEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	token := loginToken(t, server)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/datatypes", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	datatypes := body["datatypes"].([]any)
	if len(datatypes) != 3 {
		t.Fatalf("datatypes = %d, want 3", len(datatypes))
	}
	var article map[string]any
	for _, raw := range datatypes {
		if dt := raw.(map[string]any); dt["id"] == "dt_article" {
			article = dt
		}
	}
	if article == nil {
		t.Fatal("dt_article missing")
	}
	if fields := article["fields"].([]any); len(fields) != 4 {
		t.Errorf("article fields = %d, want 4", len(fields))
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	token := loginToken(t, server)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/documents/doc_welcome/history", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	commits := body["commits"].([]any)
	if len(commits) == 0 {
		t.Fatal("expected at least the baseline commit")
	}
	hash := commits[0].(map[string]any)["hash"].(string)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/documents/doc_welcome/revisions/"+hash, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revision status = %d", resp.StatusCode)
	}
	if body["snapshot"] == nil {
		t.Error("revision response missing snapshot")
	}
}
