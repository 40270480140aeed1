// Command sandbox-server runs the HTTP execution service inside sandbox
// pods. It executes Python code in isolated subprocesses, one temp
// directory per request, and returns output plus any files written to
// the output directory.
//
// Configuration:
//
//	SANDBOX_PORT             - Listen port (default: 8080)
//	SANDBOX_MAX_CONCURRENT   - Max concurrent executions (default: 3)
//	SANDBOX_ALLOWED_PACKAGES - Comma-separated package allow-list; empty
//	                           rejects all package installs
//	SANDBOX_PYTHON_INDEX     - Package index URL (default: https://pypi.org/simple/)
//	SANDBOX_OUTPUT_DIR       - Output directory name within temp dir (default: output)
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chihyuyeh/coda/pkg/sandbox"
)

func main() {
	port := envOr("SANDBOX_PORT", "8080")
	maxConcurrent := envOrInt("SANDBOX_MAX_CONCURRENT", 3)
	pythonIndex := envOr("SANDBOX_PYTHON_INDEX", "https://pypi.org/simple/")
	outputDirName := envOr("SANDBOX_OUTPUT_DIR", "output")
	allowed := parseAllowList(os.Getenv("SANDBOX_ALLOWED_PACKAGES"))

	if _, err := exec.LookPath("python3"); err != nil {
		slog.Error("python3 not found in PATH")
		os.Exit(1)
	}

	srv := &sandboxServer{
		runtimeVersion:  detectRuntimeVersion(),
		maxConcurrent:   int32(maxConcurrent),
		pythonIndex:     pythonIndex,
		outputDirName:   outputDirName,
		allowedPackages: allowed,
		startTime:       time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", srv.handleExecute)
	mux.HandleFunc("GET /health", srv.handleHealth)

	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long timeout for code execution.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("sandbox server starting",
			"port", port,
			"runtime", srv.runtimeVersion,
			"max_concurrent", maxConcurrent,
			"allowed_packages", len(allowed),
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

// --- Server ---

type sandboxServer struct {
	runtimeVersion  string // e.g., "Python 3.12.12"
	maxConcurrent   int32
	currentLoad     atomic.Int32
	pythonIndex     string
	outputDirName   string
	allowedPackages map[string]bool
	startTime       time.Time
}

func (s *sandboxServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	// Check capacity.
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)

	if current > s.maxConcurrent {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.maxConcurrent),
		})
		return
	}

	var req sandbox.ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10*1024*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	sourcePreview := req.Source
	if len(sourcePreview) > 120 {
		sourcePreview = sourcePreview[:120] + "..."
	}
	slog.Info("execute request",
		"source", sourcePreview,
		"timeout", req.TimeoutSeconds,
		"packages", len(req.Packages),
		"files", len(req.Files),
	)

	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 30
	}

	// The allow-list is the sandbox's own policy: a gateway cannot talk
	// it into installing anything outside it.
	if rejected := s.disallowedPackages(req.Packages); len(rejected) > 0 {
		writeResult(w, sandbox.ExecuteResponse{
			Status:   "error",
			Stderr:   "packages not in allow-list: " + strings.Join(rejected, ", "),
			ExitCode: -1,
		})
		return
	}

	// Create temporary working directory.
	tmpDir, err := os.MkdirTemp("", "sandbox-exec-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create temp dir: "+err.Error())
		return
	}
	defer os.RemoveAll(tmpDir)

	outputDir := filepath.Join(tmpDir, s.outputDirName)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create output dir: "+err.Error())
		return
	}

	// Write input files.
	for name, b64Content := range req.Files {
		content, err := base64.StdEncoding.DecodeString(b64Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to decode file %q: %v", name, err))
			return
		}
		filePath := filepath.Join(tmpDir, filepath.Base(name)) // Prevent path traversal.
		if err := os.WriteFile(filePath, content, 0644); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to write file %q: %v", name, err))
			return
		}
	}

	if len(req.Packages) > 0 {
		if installErr := s.installPackages(r.Context(), tmpDir, req.Packages, req.TimeoutSeconds); installErr != nil {
			writeResult(w, sandbox.ExecuteResponse{
				Status:   "error",
				Stderr:   "package installation failed: " + installErr.Error(),
				ExitCode: -1,
			})
			return
		}
	}

	codePath := filepath.Join(tmpDir, "script.py")
	if err := os.WriteFile(codePath, []byte(req.Source), 0644); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to write code: "+err.Error())
		return
	}

	// Execute with timeout.
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(req.TimeoutSeconds)*time.Second)
	defer cancel()

	startTime := time.Now()
	cmd := exec.CommandContext(ctx, "python3", codePath)
	cmd.Dir = tmpDir
	cmd.Env = append(os.Environ(),
		"OUTPUT_DIR="+outputDir,
		"PYTHONPATH="+filepath.Join(tmpDir, ".pylibs"),
	)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	execErr := cmd.Run()
	duration := time.Since(startTime)

	exitCode := 0
	status := "success"
	if execErr != nil {
		status = "error"
		// Check timeout first (context deadline takes precedence over
		// exit error).
		if ctx.Err() == context.DeadlineExceeded {
			status = "timeout"
			exitCode = -1
			if stderrBuf.Len() == 0 {
				stderrBuf.WriteString(fmt.Sprintf("execution timed out after %d seconds", req.TimeoutSeconds))
			}
		} else if exitErr, ok := execErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	artifacts := collectArtifacts(outputDir)

	stdoutPreview := stdoutBuf.String()
	if len(stdoutPreview) > 200 {
		stdoutPreview = stdoutPreview[:200] + "..."
	}
	slog.Info("execute complete",
		"status", status,
		"exit_code", exitCode,
		"duration_ms", duration.Milliseconds(),
		"stdout_len", stdoutBuf.Len(),
		"stdout", stdoutPreview,
		"artifacts", len(artifacts),
	)

	writeResult(w, sandbox.ExecuteResponse{
		Status:          status,
		Stdout:          stdoutBuf.String(),
		Stderr:          stderrBuf.String(),
		ExitCode:        exitCode,
		ExecutionTimeMs: duration.Milliseconds(),
		Artifacts:       artifacts,
	})
}

// disallowedPackages returns the requested packages missing from the
// allow-list.
func (s *sandboxServer) disallowedPackages(packages []string) []string {
	var rejected []string
	for _, pkg := range packages {
		// Strip version pins: the allow-list names packages, not versions.
		name := strings.FieldsFunc(pkg, func(r rune) bool {
			return r == '=' || r == '<' || r == '>' || r == '~' || r == '!'
		})
		if len(name) == 0 || !s.allowedPackages[strings.ToLower(name[0])] {
			rejected = append(rejected, pkg)
		}
	}
	return rejected
}

// installPackages installs packages into a per-request target directory
// with uv.
func (s *sandboxServer) installPackages(ctx context.Context, workDir string, packages []string, timeoutSecs int) error {
	installCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	targetDir := filepath.Join(workDir, ".pylibs")
	args := []string{"pip", "install", "--system", "--target", targetDir, "--index-url", s.pythonIndex}
	args = append(args, packages...)

	cmd := exec.CommandContext(installCtx, "uv", args...)
	cmd.Dir = workDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err.Error(), string(output))
	}
	return nil
}

// collectArtifacts reads files from the output directory in name order
// and encodes them as base64.
func collectArtifacts(outputDir string) []sandbox.ArtifactFile {
	entries, err := os.ReadDir(outputDir)
	if err != nil || len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var files []sandbox.ArtifactFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outputDir, entry.Name()))
		if err != nil {
			continue
		}
		files = append(files, sandbox.ArtifactFile{
			Name: entry.Name(),
			Data: base64.StdEncoding.EncodeToString(content),
		})
	}
	return files
}

// --- Health handler ---

type healthResponse struct {
	Status         string `json:"status"`
	RuntimeVersion string `json:"runtime_version"`
	Capacity       int    `json:"capacity"`
	CurrentLoad    int    `json:"current_load"`
	UptimeSecs     int64  `json:"uptime_seconds"`
}

func (s *sandboxServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:         "healthy",
		RuntimeVersion: s.runtimeVersion,
		Capacity:       int(s.maxConcurrent),
		CurrentLoad:    int(s.currentLoad.Load()),
		UptimeSecs:     int64(time.Since(s.startTime).Seconds()),
	})
}

// detectRuntimeVersion returns the interpreter version string.
func detectRuntimeVersion() string {
	output, err := exec.Command("python3", "--version").Output()
	if err != nil {
		return "unknown"
	}
	version := strings.TrimSpace(string(output))
	if idx := strings.Index(version, "\n"); idx > 0 {
		version = version[:idx]
	}
	return version
}

// --- Helpers ---

func parseAllowList(s string) map[string]bool {
	allowed := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			allowed[p] = true
		}
	}
	return allowed
}

func writeResult(w http.ResponseWriter, resp sandbox.ExecuteResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
