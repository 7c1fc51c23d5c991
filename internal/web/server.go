package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/skyops/txctl/internal/readiness"
	"github.com/skyops/txctl/internal/supervisor"
)

// Server exposes the supervised runs over HTTP: an HTML dashboard, a JSON
// run listing, and per-run log tails.
type Server struct {
	port     int
	manifest *supervisor.Manifest
	gate     *readiness.Gate
	logger   zerolog.Logger
	server   *http.Server
}

// New creates a monitor server over the given run manifest.
func New(port int, manifest *supervisor.Manifest, gate *readiness.Gate, logger zerolog.Logger) *Server {
	return &Server{
		port:     port,
		manifest: manifest,
		gate:     gate,
		logger:   logger,
	}
}

// Handler builds the monitor's route table.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/", s.handleDashboard).Methods("GET")
	router.HandleFunc("/api/runs", s.handleAPIRuns).Methods("GET")
	router.HandleFunc("/api/runs/{id}/log", s.handleAPILog).Methods("GET")

	return router
}

// Start binds the listener and serves in the background. A bind failure
// (port already taken) is reported here, not from the serving goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("monitor port %d unavailable: %w", s.port, err)
	}

	s.server = &http.Server{Handler: s.Handler()}

	go func() {
		s.logger.Info().Int("port", s.port).Msg("monitor server starting")
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("monitor server error")
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("error during monitor shutdown")
	}
}

type runView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	Port      int       `json:"port,omitempty"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	Reachable bool      `json:"reachable"`
	LogPath   string    `json:"log_path"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) runViews() ([]runView, error) {
	runs, err := s.manifest.List()
	if err != nil {
		return nil, err
	}

	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		v := runView{
			ID:        r.ID,
			Name:      r.Name,
			Model:     r.Model,
			Port:      r.Port,
			PID:       r.PID,
			Running:   r.Alive(),
			LogPath:   r.LogPath,
			StartedAt: r.StartedAt,
		}
		if v.Running && r.Port > 0 {
			v.Reachable = s.gate.PortBusy("127.0.0.1", r.Port)
		}
		views = append(views, v)
	}
	return views, nil
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>txctl monitor</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; background-color: #f5f5f5; }
        .container { max-width: 1000px; margin: 0 auto; background: white; padding: 20px; border-radius: 8px; }
        h1 { color: #333; }
        table { width: 100%; border-collapse: collapse; margin-top: 20px; }
        th, td { padding: 10px; text-align: left; border-bottom: 1px solid #ddd; }
        th { background-color: #f8f9fa; }
        .up { color: #28a745; font-weight: bold; }
        .down { color: #dc3545; font-weight: bold; }
        .mono { font-family: monospace; }
    </style>
    <script>setInterval(function() { location.reload(); }, 10000);</script>
</head>
<body>
    <div class="container">
        <h1>txctl runs</h1>
        {{if .Runs}}
        <table>
            <thead>
                <tr><th>Run</th><th>Model</th><th>Port</th><th>PID</th><th>Process</th><th>Endpoint</th><th>Started</th></tr>
            </thead>
            <tbody>
                {{range .Runs}}
                <tr>
                    <td class="mono">{{.Name}}/{{.ID}}</td>
                    <td>{{.Model}}</td>
                    <td class="mono">{{.Port}}</td>
                    <td class="mono">{{.PID}}</td>
                    <td class="{{if .Running}}up{{else}}down{{end}}">{{if .Running}}running{{else}}exited{{end}}</td>
                    <td class="{{if .Reachable}}up{{else}}down{{end}}">{{if .Reachable}}reachable{{else}}unreachable{{end}}</td>
                    <td class="mono">{{.StartedAt.Format "2006-01-02 15:04:05"}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
        {{else}}
        <p>No supervised runs recorded yet.</p>
        {{end}}
        <p style="color:#666">Last updated: {{.LastUpdated}}</p>
    </div>
</body>
</html>`))

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	views, err := s.runViews()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load runs: %v", err), http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Runs":        views,
		"LastUpdated": time.Now().Format("15:04:05"),
	}

	w.Header().Set("Content-Type", "text/html")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("error executing dashboard template")
	}
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	views, err := s.runViews()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load runs: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.logger.Error().Err(err).Msg("error encoding runs")
	}
}

func (s *Server) handleAPILog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	lines := 50
	if raw := r.URL.Query().Get("lines"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			lines = n
		}
	}

	runs, err := s.manifest.List()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load runs: %v", err), http.StatusInternalServerError)
		return
	}

	for _, run := range runs {
		if run.ID != id {
			continue
		}
		tail, err := supervisor.TailFile(run.LogPath, lines)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read log: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "lines": tail}); err != nil {
			s.logger.Error().Err(err).Msg("error encoding log tail")
		}
		return
	}

	http.Error(w, "run not found", http.StatusNotFound)
}
