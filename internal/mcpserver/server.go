package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/aivsjobs/internal/models"
	"github.com/snappy-loop/aivsjobs/internal/pipeline"
)

// JSON-RPC 2.0 request
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSON-RPC 2.0 response
type jsonRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mcpProtocolVersion is returned from initialize when the client does not ask for one.
const mcpProtocolVersion = "2025-03-26"

// MCP initialize result
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools map[string]interface{} `json:"tools"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCP tools/list result
type toolsListResult struct {
	Tools      []mcpTool `json:"tools"`
	NextCursor *string   `json:"nextCursor,omitempty"`
}

type mcpTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema inputSchema `json:"inputSchema"`
}

type inputSchema struct {
	Type       string                `json:"type"`
	Properties map[string]schemaProp `json:"properties"`
	Required   []string              `json:"required,omitempty"`
}

type schemaProp struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// MCP tools/call result
type toolsCallResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError"`
}

type contentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Server implements MCP JSON-RPC 2.0 over HTTP (initialize, ping, tools/list and tools/call).
type Server struct {
	analyzer    pipeline.Analyzer
	illustrator pipeline.Illustrator
}

// NewServer returns a new MCP server that exposes the analysis and image clients as tools.
func NewServer(analyzer pipeline.Analyzer, illustrator pipeline.Illustrator) *Server {
	return &Server{
		analyzer:    analyzer,
		illustrator: illustrator,
	}
}

// Handler returns the HTTP handler for JSON-RPC requests.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveJSONRPC)
}

func (s *Server) serveJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, req.ID, -32700, "Parse error")
		return
	}
	if req.JSONRPC != "2.0" {
		writeRPCError(w, req.ID, -32600, "Invalid Request")
		return
	}

	// Notifications (e.g. notifications/initialized) carry no id and get no response body.
	if req.ID == nil && strings.HasPrefix(req.Method, "notifications/") {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var result interface{}
	var rpcErr *rpcError
	switch req.Method {
	case "initialize":
		result, rpcErr = s.handleInitialize(req.Params)
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result, rpcErr = s.handleToolsList()
	case "tools/call":
		result, rpcErr = s.handleToolsCall(r.Context(), req.Params)
	default:
		writeRPCError(w, req.ID, -32601, "Method not found")
		return
	}

	if rpcErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) handleInitialize(paramsRaw json.RawMessage) (interface{}, *rpcError) {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(paramsRaw) > 0 {
		if err := json.Unmarshal(paramsRaw, &params); err != nil {
			return nil, &rpcError{Code: -32602, Message: "Invalid params"}
		}
	}
	version := params.ProtocolVersion
	if version == "" {
		version = mcpProtocolVersion
	}
	return &initializeResult{
		ProtocolVersion: version,
		Capabilities:    serverCapabilities{Tools: map[string]interface{}{}},
		ServerInfo:      serverInfo{Name: "aivsjobs", Version: "1.0.0"},
	}, nil
}

func (s *Server) handleToolsList() (interface{}, *rpcError) {
	return &toolsListResult{
		Tools: []mcpTool{
			{
				Name:        "analyze_profession",
				Description: "Decide whether AI can replace a profession; returns replaceable, explanation and imagePrompt as JSON",
				InputSchema: inputSchema{
					Type: "object",
					Properties: map[string]schemaProp{
						"profession": {Type: "string", Description: "Profession name, e.g. Дизайнер"},
					},
					Required: []string{"profession"},
				},
			},
			{
				Name:        "generate_illustration",
				Description: "Generate a square PNG illustration from an image prompt",
				InputSchema: inputSchema{
					Type: "object",
					Properties: map[string]schemaProp{
						"prompt": {Type: "string", Description: "Image prompt, usually imagePrompt from analyze_profession"},
					},
					Required: []string{"prompt"},
				},
			},
		},
	}, nil
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, paramsRaw json.RawMessage) (interface{}, *rpcError) {
	var params toolsCallParams
	if err := json.Unmarshal(paramsRaw, &params); err != nil {
		return nil, &rpcError{Code: -32602, Message: "Invalid params"}
	}
	switch params.Name {
	case "analyze_profession":
		return s.callAnalyzeProfession(ctx, params.Arguments)
	case "generate_illustration":
		return s.callGenerateIllustration(ctx, params.Arguments)
	default:
		return nil, &rpcError{Code: -32602, Message: "Unknown tool: " + params.Name}
	}
}

func getStr(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func errorResult(msg string) *toolsCallResult {
	return &toolsCallResult{
		Content: []contentItem{{Type: "text", Text: msg}},
		IsError: true,
	}
}

func (s *Server) callAnalyzeProfession(ctx context.Context, args map[string]interface{}) (interface{}, *rpcError) {
	profession := strings.TrimSpace(getStr(args, "profession"))
	if profession == "" {
		return errorResult("profession is required"), nil
	}
	result, err := s.analyzer.AnalyzeProfession(ctx, profession)
	if err != nil {
		log.Warn().Err(err).Msg("MCP analyze_profession failed")
		return errorResult(err.Error()), nil
	}
	raw, _ := json.Marshal(result)
	return &toolsCallResult{
		Content: []contentItem{{Type: "text", Text: string(raw)}},
		IsError: false,
	}, nil
}

func (s *Server) callGenerateIllustration(ctx context.Context, args map[string]interface{}) (interface{}, *rpcError) {
	prompt := strings.TrimSpace(getStr(args, "prompt"))
	if prompt == "" {
		return errorResult("prompt is required"), nil
	}
	img := s.illustrator.GenerateImage(ctx, prompt)
	data, ok := strings.CutPrefix(img.DataURI, "data:image/png;base64,")
	if img.Status != models.ImageReady || !ok {
		return &toolsCallResult{
			Content: []contentItem{{Type: "text", Text: "illustration unavailable"}},
			IsError: false,
		}, nil
	}
	return &toolsCallResult{
		Content: []contentItem{{Type: "image", Data: data, MimeType: "image/png"}},
		IsError: false,
	}, nil
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeRPCError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(jsonRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
