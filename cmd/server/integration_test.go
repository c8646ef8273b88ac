//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Run migrations
	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		postgres.Terminate(ctx)
	}

	return connStr, cleanup
}

// TestEndToEnd_IngestRunAndAudit tests the complete workflow against Postgres:
// 1. Upload policy
// 2. Ingest case
// 3. Run decision
// 4. Read the audit timeline and the evaluated case
func TestEndToEnd_IngestRunAndAudit(t *testing.T) {
	connStr, cleanup := setupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewServer(ctx, Config{
		DatabaseURL:    connStr,
		PolicyCacheTTL: time.Minute,
		ContractsFile:  contractsPath,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()
	baseURL := ts.URL + "/api/v1"

	health := makeRequest(t, "GET", baseURL+"/health", nil)
	if health["storage"] != "postgres" {
		t.Errorf("Expected postgres storage, got %v", health["storage"])
	}

	// Step 1: Upload policy
	t.Log("Step 1: Uploading policy...")
	doc, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("Failed to read policy: %v", err)
	}
	policyResp := makeRequest(t, "PUT", baseURL+"/policies/PROCUREMENT-001/versions/v3.1", doc)
	t.Logf("Stored policy with hash %v", policyResp["hash"])

	// Step 2: Ingest case
	t.Log("Step 2: Ingesting case...")
	caseData, err := os.ReadFile(casePaths[0])
	if err != nil {
		t.Fatalf("Failed to read case: %v", err)
	}
	var raw struct {
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(caseData, &raw); err != nil {
		t.Fatalf("Failed to decode case: %v", err)
	}
	makeRequest(t, "PUT", baseURL+"/cases/CASE-1001", map[string]any{"payload": raw.Payload})

	// Step 3: Run decision
	t.Log("Step 3: Running decision...")
	runResp := makeRequest(t, "POST", baseURL+"/decisions/run", map[string]any{"case_id": "CASE-1001"})
	recommendation := runResp["recommendation"].(map[string]any)
	if recommendation["decision"] != "ESCALATE" {
		t.Errorf("Expected ESCALATE, got %v", recommendation["decision"])
	}
	if runResp["risk_level"] != "HIGH" {
		t.Errorf("Expected HIGH risk, got %v", runResp["risk_level"])
	}

	// Step 4: Audit timeline
	t.Log("Step 4: Reading audit timeline...")
	auditResp := makeRequest(t, "GET", baseURL+"/cases/CASE-1001/audit", nil)
	events, ok := auditResp["events"].([]any)
	if !ok || float64(len(events)) != runResp["written_events"].(float64) {
		t.Fatalf("Expected %v events, got %v", runResp["written_events"], auditResp["events"])
	}
	first := events[0].(map[string]any)
	last := events[len(events)-1].(map[string]any)
	if first["event_type"] != "DECISION_RUN_STARTED" || last["event_type"] != "DECISION_RUN_COMPLETED" {
		t.Errorf("Unexpected event order: first=%v last=%v", first["event_type"], last["event_type"])
	}

	caseResp := makeRequest(t, "GET", baseURL+"/cases/CASE-1001", nil)
	if caseResp["status"] != "EVALUATED" {
		t.Errorf("Expected EVALUATED case, got %v", caseResp["status"])
	}

	t.Log("End-to-end test completed successfully!")
}

// TestEndToEnd_PolicyConflict tests that a stored policy version cannot change
func TestEndToEnd_PolicyConflict(t *testing.T) {
	connStr, cleanup := setupTestDB(t)
	defer cleanup()

	server, err := NewServer(context.Background(), Config{DatabaseURL: connStr, PolicyCacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()

	doc, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("Failed to read policy: %v", err)
	}
	url := ts.URL + "/api/v1/policies/PROCUREMENT-001/versions/v3.1"
	makeRequest(t, "PUT", url, doc)

	changed := bytes.Replace(doc, []byte("max_allowed_variance_pct: 5"), []byte("max_allowed_variance_pct: 6"), 1)
	resp, err := makeHTTPRequest("PUT", url, changed)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 Conflict, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	t.Logf("Conflict response: %s", string(body))
}

// Helper function to make HTTP requests and decode a JSON object response
func makeRequest(t *testing.T, method, url string, body any) map[string]any {
	resp, err := makeHTTPRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	return result
}

// makeHTTPRequest sends raw bytes as-is and anything else as JSON
func makeHTTPRequest(method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}
