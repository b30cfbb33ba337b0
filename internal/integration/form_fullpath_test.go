package integration

import (
	"net/http"
	"strings"
	"testing"
)

// TestFormSubmission_FullPath submits a contact form end to end: an
// email_form_handler rule turns POSTs into mail through the recording
// mailer, honeypot hits vanish silently, and browsers get their CORS
// preflight and post-submit redirect.
func TestFormSubmission_FullPath(t *testing.T) {
	env := newTestEnv(t)
	commit := strings.Repeat("e", 40)

	// 1. Project with a form handler rule bound through the default set.
	projectID := env.createProject(t, map[string]any{
		"owner":    "acme",
		"name":     "forms",
		"isPublic": true,
	})
	env.uploadAsset(t, projectID, commit, "main", "index.html", "text/html", []byte("<form></form>"))
	env.createAlias(t, projectID, map[string]any{"name": "production", "commitSha": commit})
	env.createDomain(t, map[string]any{
		"domain":    "forms.acme.dev",
		"projectId": projectID,
		"type":      "custom",
	})
	ruleSetID := env.createRuleSet(t, projectID, "forms")
	var created struct {
		ID string `json:"id"`
	}
	status := env.adminRequest(t, http.MethodPost, "/admin/api/rule-sets/"+ruleSetID+"/rules", map[string]any{
		"pathPattern": "/api/contact",
		"kind":        "email_form_handler",
		"email": map[string]any{
			"destinationEmail": "owner@acme.dev",
			"subjectTemplate":  "Contact from {name}",
			"honeypotField":    "website",
			"corsOrigin":       "https://forms.acme.dev",
		},
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create form rule: status = %d, want %d", status, http.StatusCreated)
	}
	if status := env.adminRequest(t, http.MethodPut, "/admin/api/projects/"+projectID, map[string]any{
		"defaultRuleSetId": ruleSetID,
	}, nil); status != http.StatusOK {
		t.Fatalf("bind default rule set: status = %d, want %d", status, http.StatusOK)
	}

	postForm := func(body, contentType string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/contact", strings.NewReader(body))
		if err != nil {
			t.Fatalf("build form POST: %v", err)
		}
		req.Host = "forms.acme.dev"
		req.Header.Set("Content-Type", contentType)
		resp, err := env.client.Do(req)
		if err != nil {
			t.Fatalf("form POST: %v", err)
		}
		return resp
	}

	// 2. A urlencoded submission becomes mail.
	resp := postForm("name=Ada&message=hello+there", "application/x-www-form-urlencoded")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("form POST: status = %d, want %d, body %s", resp.StatusCode, http.StatusOK, body)
	}
	if !strings.Contains(body, `"success":true`) {
		t.Errorf("form response = %q, want success", body)
	}
	sent := env.mailer.Sent()
	if len(sent) != 1 {
		t.Fatalf("len(Sent()) = %d, want 1", len(sent))
	}
	if sent[0].To != "owner@acme.dev" {
		t.Errorf("mail To = %q, want %q", sent[0].To, "owner@acme.dev")
	}
	if sent[0].Subject != "Contact from Ada" {
		t.Errorf("mail Subject = %q, want %q", sent[0].Subject, "Contact from Ada")
	}
	if !strings.Contains(sent[0].Text, "message: hello there") {
		t.Errorf("mail Text = %q, want the message field rendered", sent[0].Text)
	}

	// 3. JSON submissions preserve field order in the rendered body.
	resp = postForm(`{"name":"Grace","message":"hi"}`, "application/json")
	_ = readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("JSON form POST: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	sent = env.mailer.Sent()
	if len(sent) != 2 {
		t.Fatalf("len(Sent()) = %d, want 2", len(sent))
	}
	if !strings.HasPrefix(sent[1].Text, "name: Grace\n") {
		t.Errorf("JSON mail Text = %q, want name first", sent[1].Text)
	}

	// 4. Honeypot hits report success and send nothing.
	resp = postForm("name=Bot&website=spam", "application/x-www-form-urlencoded")
	body = readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("honeypot POST: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(body, `"success":true`) {
		t.Errorf("honeypot response = %q, want the same success shape", body)
	}
	if got := len(env.mailer.Sent()); got != 2 {
		t.Errorf("len(Sent()) after honeypot = %d, want 2", got)
	}

	// 5. Preflight answers from the rule's CORS origin.
	preflight, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/contact", nil)
	if err != nil {
		t.Fatalf("build preflight: %v", err)
	}
	preflight.Host = "forms.acme.dev"
	preResp, err := env.client.Do(preflight)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	origin := preResp.Header.Get("Access-Control-Allow-Origin")
	methods := preResp.Header.Get("Access-Control-Allow-Methods")
	_ = readBody(t, preResp)
	if preResp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight: status = %d, want %d", preResp.StatusCode, http.StatusNoContent)
	}
	if origin != "https://forms.acme.dev" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", origin, "https://forms.acme.dev")
	}
	if methods != "POST, OPTIONS" {
		t.Errorf("Access-Control-Allow-Methods = %q, want %q", methods, "POST, OPTIONS")
	}

	// 6. A success redirect switches the response to a browser redirect.
	if status := env.adminRequest(t, http.MethodPut, "/admin/api/rules/"+created.ID, map[string]any{
		"email": map[string]any{
			"destinationEmail": "owner@acme.dev",
			"subjectTemplate":  "Contact from {name}",
			"honeypotField":    "website",
			"corsOrigin":       "https://forms.acme.dev",
			"successRedirect":  "https://forms.acme.dev/thanks",
		},
	}, nil); status != http.StatusOK {
		t.Fatalf("update form rule: status = %d, want %d", status, http.StatusOK)
	}
	resp = postForm("name=Hopper", "application/x-www-form-urlencoded")
	loc := resp.Header.Get("Location")
	_ = readBody(t, resp)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("redirecting form POST: status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if loc != "https://forms.acme.dev/thanks" {
		t.Errorf("form redirect Location = %q, want %q", loc, "https://forms.acme.dev/thanks")
	}
}
