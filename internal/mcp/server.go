package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/scenedex/internal/config"
	"github.com/Aman-CERP/scenedex/internal/index"
	"github.com/Aman-CERP/scenedex/internal/search"
	"github.com/Aman-CERP/scenedex/internal/store"
	"github.com/Aman-CERP/scenedex/pkg/version"
)

// Server bridges AI clients with the scene index: sync on demand, then
// search the synced scenes.
type Server struct {
	mcp      *mcp.Server
	syncer   *index.Syncer
	engine   *search.Engine
	store    store.IndexStore
	config   *config.Config
	rootPath string
	logger   *slog.Logger
}

// SearchInput defines the input schema for the search_scenes tool.
type SearchInput struct {
	Query     string `json:"query" jsonschema:"the scene search query to execute"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Character string `json:"character,omitempty" jsonschema:"only scenes featuring this character"`
	Location  string `json:"location,omitempty" jsonschema:"only scenes whose heading location contains this value"`
	TimeOfDay string `json:"time_of_day,omitempty" jsonschema:"only scenes with this heading time qualifier, e.g. NIGHT"`
}

// SearchOutput defines the output schema for the search_scenes tool.
type SearchOutput struct {
	Results  []SearchResultOutput `json:"results" jsonschema:"ranked scene results"`
	Degraded bool                 `json:"degraded,omitempty" jsonschema:"true when the semantic pass was unavailable and results are lexical-only"`
}

// SearchResultOutput is a single ranked scene.
type SearchResultOutput struct {
	ContentHash  string          `json:"content_hash" jsonschema:"stable content-derived scene identity"`
	Heading      string          `json:"heading" jsonschema:"the scene heading as written"`
	Snippet      string          `json:"snippet,omitempty" jsonschema:"leading scene text"`
	DocumentPath string          `json:"document_path" jsonschema:"primary document containing the scene"`
	Ordinal      int             `json:"ordinal" jsonschema:"scene position within the primary document"`
	Score        float64         `json:"score" jsonschema:"combined relevance score"`
	InBoth       bool            `json:"in_both,omitempty" jsonschema:"true if the scene matched both the lexical and semantic passes"`
	Metadata     json.RawMessage `json:"metadata,omitempty" jsonschema:"extracted scene metadata properties"`
}

// SyncInput defines the input schema for the sync_documents tool.
type SyncInput struct {
	Paths []string `json:"paths,omitempty" jsonschema:"documents to sync, relative to the project root; all configured documents when omitted"`
}

// SyncOutput defines the output schema for the sync_documents tool.
type SyncOutput struct {
	Documents     int               `json:"documents" jsonschema:"documents processed"`
	Synced        int               `json:"synced" jsonschema:"documents synced successfully"`
	Failed        int               `json:"failed" jsonschema:"documents that failed"`
	ScenesAdded   int               `json:"scenes_added" jsonschema:"new scene versions indexed"`
	ScenesRemoved int               `json:"scenes_removed" jsonschema:"scene versions no longer present"`
	Errors        map[string]string `json:"errors,omitempty" jsonschema:"per-document failure messages"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	RootPath  string           `json:"root_path" jsonschema:"project root being indexed"`
	Documents []DocumentStatus `json:"documents" jsonschema:"tracked documents and their last sync"`
}

// DocumentStatus is one tracked document.
type DocumentStatus struct {
	Path     string `json:"path"`
	Title    string `json:"title,omitempty"`
	SyncedAt string `json:"synced_at"`
}

// NewServer creates the MCP server and registers its tools.
func NewServer(syncer *index.Syncer, engine *search.Engine, idx store.IndexStore, cfg *config.Config, rootPath string) (*Server, error) {
	if syncer == nil {
		return nil, errors.New("syncer is required")
	}
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if idx == nil {
		return nil, errors.New("index store is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Server{
		syncer:   syncer,
		engine:   engine,
		store:    idx,
		config:   cfg,
		rootPath: rootPath,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "scenedex",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("MCP server starting",
		slog.String("transport", "stdio"),
		slog.String("root", s.rootPath))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_scenes",
		Description: "Search indexed screenplay scenes by meaning and keywords. Combines full-text and semantic matching, with filters for character, location, and time of day.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_documents",
		Description: "Synchronize screenplay documents into the scene index. Only changed scenes are re-indexed; call after editing documents to keep search current.",
	}, s.mcpSyncHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "List tracked documents and when each was last synced. Use to verify the index is current before searching.",
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", 3))
}

// mcpSearchHandler is the SDK handler for the search_scenes tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query))

	opts := search.Options{
		Limit: input.Limit,
		Filters: search.Filters{
			Character: input.Character,
			Location:  input.Location,
			TimeOfDay: input.TimeOfDay,
		},
	}

	resp, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded))

	output := SearchOutput{
		Results:  make([]SearchResultOutput, 0, len(resp.Results)),
		Degraded: resp.Degraded,
	}
	for _, r := range resp.Results {
		output.Results = append(output.Results, toResultOutput(r))
	}
	return nil, output, nil
}

// mcpSyncHandler is the SDK handler for the sync_documents tool.
func (s *Server) mcpSyncHandler(ctx context.Context, _ *mcp.CallToolRequest, input SyncInput) (
	*mcp.CallToolResult,
	SyncOutput,
	error,
) {
	paths := input.Paths
	if len(paths) == 0 {
		discovered, err := index.Discover(s.rootPath, s.config.Paths.Include)
		if err != nil {
			return nil, SyncOutput{}, MapError(err)
		}
		paths = discovered
	}

	start := time.Now()
	report := s.syncer.SyncAll(ctx, paths)

	s.logger.Info("sync completed",
		slog.Int("documents", report.Documents),
		slog.Int("synced", report.Synced),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)))

	output := SyncOutput{
		Documents:     report.Documents,
		Synced:        report.Synced,
		Failed:        report.Failed,
		ScenesAdded:   report.Added,
		ScenesRemoved: report.Removed,
	}
	if len(report.Errors) > 0 {
		output.Errors = make(map[string]string, len(report.Errors))
		for path, err := range report.Errors {
			output.Errors[path] = err.Error()
		}
	}
	return nil, output, nil
}

// mcpIndexStatusHandler is the SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}

	output := &IndexStatusOutput{
		RootPath:  s.rootPath,
		Documents: make([]DocumentStatus, 0, len(docs)),
	}
	for _, d := range docs {
		output.Documents = append(output.Documents, DocumentStatus{
			Path:     d.Path,
			Title:    d.Title,
			SyncedAt: d.SyncedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, output, nil
}

// toResultOutput converts an engine result to the wire shape.
func toResultOutput(r *search.Result) SearchResultOutput {
	out := SearchResultOutput{
		ContentHash:  r.ContentHash,
		Heading:      r.Heading.Raw,
		Snippet:      r.Snippet,
		DocumentPath: r.DocumentPath,
		Ordinal:      r.Ordinal,
		Score:        r.Score,
		InBoth:       r.InBoth,
	}
	if len(r.Metadata) > 0 {
		if raw, err := json.Marshal(r.Metadata); err == nil {
			out.Metadata = raw
		}
	}
	return out
}

// generateRequestID returns a short opaque ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}
