package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-ledger/pkg/logger"
	"github.com/prohmpiriya/ticket-ledger/pkg/telemetry"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionSubmit  AuditAction = "submit_transaction"
	AuditActionAirdrop AuditAction = "airdrop"
	AuditActionVerify  AuditAction = "verify_journal"
	AuditActionCreate  AuditAction = "create"
	AuditActionView    AuditAction = "view"
)

// Context keys for audit data
const (
	ContextKeyAuditResourceType = "audit_resource_type"
	ContextKeyAuditResourceID   = "audit_resource_id"
	ContextKeyAuditMetadata     = "audit_metadata"
	contextKeyAuditSkip         = "audit_skip"
)

// AuditEntry represents a single audit log entry
type AuditEntry struct {
	ID           string                 `json:"id"`
	Subject      *string                `json:"subject,omitempty"`
	Role         string                 `json:"role,omitempty"`
	Action       AuditAction            `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   *string                `json:"resource_id,omitempty"`
	Status       int                    `json:"status"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	TraceID      string                 `json:"trace_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Latency      time.Duration          `json:"latency"`
	CreatedAt    time.Time              `json:"created_at"`
}

// AuditSink persists flushed audit batches
type AuditSink interface {
	WriteAudit(ctx context.Context, entries []*AuditEntry) error
}

// AuditConfig holds configuration for the audit middleware
type AuditConfig struct {
	// Sink receives flushed batches; nil discards them
	Sink AuditSink
	// BufferSize is the size of the async audit buffer (default: 1000)
	BufferSize int
	// FlushInterval is how often to flush the buffer (default: 5 seconds)
	FlushInterval time.Duration
	// BatchSize is the maximum number of entries to write in one batch (default: 100)
	BatchSize int
	// SkipPaths is a list of paths to skip auditing
	SkipPaths []string
	// SkipMethods is a list of HTTP methods to skip (default: GET, HEAD, OPTIONS)
	SkipMethods []string
	// ActionMapper maps HTTP method + path pattern to audit action
	ActionMapper func(method, path string) AuditAction
	// ResourceExtractor extracts resource type and ID from path
	ResourceExtractor func(path string) (resourceType string, resourceID string)
	// EnableRequestBody records the masked request body in metadata
	EnableRequestBody bool
	// MaxBodySize limits the size of captured body (default: 10KB)
	MaxBodySize int
	// SensitiveFields are field names that should be masked
	SensitiveFields []string
}

// DefaultAuditConfig returns default configuration
func DefaultAuditConfig(sink AuditSink) *AuditConfig {
	return &AuditConfig{
		Sink:              sink,
		BufferSize:        1000,
		FlushInterval:     5 * time.Second,
		BatchSize:         100,
		SkipPaths:         []string{"/health", "/ready", "/metrics"},
		SkipMethods:       []string{"GET", "HEAD", "OPTIONS"},
		ActionMapper:      defaultActionMapper,
		ResourceExtractor: defaultResourceExtractor,
		EnableRequestBody: false,
		MaxBodySize:       10 * 1024,
		SensitiveFields:   []string{"secret", "private_key", "keypair", "token", "password"},
	}
}

// AuditLogger handles async audit logging
type AuditLogger struct {
	config *AuditConfig
	buffer chan *AuditEntry
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped uint64
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(config *AuditConfig) *AuditLogger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 10 * 1024
	}

	al := &AuditLogger{
		config: config,
		buffer: make(chan *AuditEntry, config.BufferSize),
	}

	al.wg.Add(1)
	go al.worker()

	return al
}

// Log adds an audit entry to the buffer without blocking.
// Entries are dropped when the buffer is full or the logger is closed.
func (al *AuditLogger) Log(entry *AuditEntry) {
	al.mu.RLock()
	defer al.mu.RUnlock()
	if al.closed {
		return
	}
	select {
	case al.buffer <- entry:
	default:
		al.dropped++
	}
}

// Dropped returns how many entries were discarded because the buffer was full
func (al *AuditLogger) Dropped() uint64 {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return al.dropped
}

// Close drains the buffer and stops the worker
func (al *AuditLogger) Close() error {
	al.mu.Lock()
	if al.closed {
		al.mu.Unlock()
		return nil
	}
	al.closed = true
	close(al.buffer)
	al.mu.Unlock()

	al.wg.Wait()
	return nil
}

func (al *AuditLogger) worker() {
	defer al.wg.Done()

	ticker := time.NewTicker(al.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*AuditEntry, 0, al.config.BatchSize)

	for {
		select {
		case entry, ok := <-al.buffer:
			if !ok {
				al.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= al.config.BatchSize {
				al.flush(batch)
				batch = make([]*AuditEntry, 0, al.config.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				al.flush(batch)
				batch = make([]*AuditEntry, 0, al.config.BatchSize)
			}
		}
	}
}

func (al *AuditLogger) flush(entries []*AuditEntry) {
	if len(entries) == 0 || al.config.Sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := al.config.Sink.WriteAudit(ctx, entries); err != nil {
		logger.Warn("audit flush failed", zap.Int("entries", len(entries)), zap.Error(err))
	}
}

// --- Sinks ---

// BatchSender is the subset of a pgx pool the postgres sink needs
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// AuditTableSchema creates the audit log table
const AuditTableSchema = `
CREATE TABLE IF NOT EXISTS ledger_audit_logs (
	id            UUID PRIMARY KEY,
	subject       TEXT,
	role          TEXT,
	action        TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id   TEXT,
	status        INTEGER NOT NULL,
	ip_address    TEXT,
	user_agent    TEXT,
	request_id    TEXT,
	trace_id      TEXT,
	metadata      JSONB NOT NULL DEFAULT '{}',
	latency_ms    BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
)`

const insertAuditSQL = `
	INSERT INTO ledger_audit_logs (
		id, subject, role, action, resource_type, resource_id, status,
		ip_address, user_agent, request_id, trace_id, metadata, latency_ms, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

// PostgresAuditSink writes batches to ledger_audit_logs in one round trip
type PostgresAuditSink struct {
	pool BatchSender
}

// NewPostgresAuditSink creates a sink on a pgx pool
func NewPostgresAuditSink(pool BatchSender) *PostgresAuditSink {
	return &PostgresAuditSink{pool: pool}
}

// WriteAudit implements AuditSink
func (s *PostgresAuditSink) WriteAudit(ctx context.Context, entries []*AuditEntry) error {
	batch := &pgx.Batch{}
	for _, entry := range entries {
		metadataJSON, err := json.Marshal(entry.Metadata)
		if err != nil || string(metadataJSON) == "null" {
			metadataJSON = []byte("{}")
		}
		batch.Queue(insertAuditSQL,
			entry.ID, entry.Subject, entry.Role, string(entry.Action), entry.ResourceType, entry.ResourceID, entry.Status,
			entry.IPAddress, entry.UserAgent, entry.RequestID, entry.TraceID, metadataJSON, entry.Latency.Milliseconds(), entry.CreatedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert audit entry %s: %w", entries[i].ID, err)
		}
	}
	return nil
}

// MemoryAuditSink keeps flushed entries in memory, for tests and local runs
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []*AuditEntry
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

// WriteAudit implements AuditSink
func (s *MemoryAuditSink) WriteAudit(_ context.Context, entries []*AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entries...)
	s.mu.Unlock()
	return nil
}

// Entries returns a copy of everything written so far
func (s *MemoryAuditSink) Entries() []*AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AuditEntry(nil), s.entries...)
}

// LogAuditSink writes audit entries as structured log lines
type LogAuditSink struct {
	log *logger.Logger
}

// NewLogAuditSink creates a sink on log, or on the global logger when log is nil
func NewLogAuditSink(log *logger.Logger) *LogAuditSink {
	if log == nil {
		log = logger.Get()
	}
	return &LogAuditSink{log: log.WithFields(zap.String("component", "audit"))}
}

// WriteAudit implements AuditSink
func (s *LogAuditSink) WriteAudit(_ context.Context, entries []*AuditEntry) error {
	for _, e := range entries {
		fields := []zap.Field{
			zap.String("audit_id", e.ID),
			zap.String("action", string(e.Action)),
			zap.String("resource_type", e.ResourceType),
			zap.Int("status", e.Status),
			zap.String("ip", e.IPAddress),
			zap.Duration("latency", e.Latency),
		}
		if e.Subject != nil {
			fields = append(fields, zap.String("subject", *e.Subject))
		}
		if e.ResourceID != nil {
			fields = append(fields, zap.String("resource_id", *e.ResourceID))
		}
		if e.RequestID != "" {
			fields = append(fields, zap.String("request_id", e.RequestID))
		}
		if len(e.Metadata) > 0 {
			fields = append(fields, zap.Any("metadata", e.Metadata))
		}
		s.log.Info("audit", fields...)
	}
	return nil
}

// AuditMiddleware creates a new audit logging middleware
func AuditMiddleware(al *AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		config := al.config

		for _, path := range config.SkipPaths {
			if c.Request.URL.Path == path {
				c.Next()
				return
			}
		}

		for _, method := range config.SkipMethods {
			if c.Request.Method == method {
				c.Next()
				return
			}
		}

		var requestBody map[string]interface{}
		if config.EnableRequestBody && c.Request.Body != nil {
			bodyBytes, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(config.MaxBodySize)+1))
			if err == nil && len(bodyBytes) > 0 {
				rest, _ := io.ReadAll(c.Request.Body)
				c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(bodyBytes), bytes.NewReader(rest)))
				if len(bodyBytes) <= config.MaxBodySize {
					_ = json.Unmarshal(bodyBytes, &requestBody)
					requestBody = maskSensitiveFields(requestBody, config.SensitiveFields)
				}
			}
		}

		startTime := time.Now()

		c.Next()

		if skip, exists := c.Get(contextKeyAuditSkip); exists {
			if b, ok := skip.(bool); ok && b {
				return
			}
		}

		entry := &AuditEntry{
			ID:        uuid.New().String(),
			Status:    c.Writer.Status(),
			Latency:   time.Since(startTime),
			CreatedAt: startTime,
		}

		if subject, ok := GetSubject(c); ok && subject != "" {
			entry.Subject = &subject
		}
		if role, ok := GetRole(c); ok {
			entry.Role = role
		}

		if config.ActionMapper != nil {
			entry.Action = config.ActionMapper(c.Request.Method, c.Request.URL.Path)
		}

		if config.ResourceExtractor != nil {
			resourceType, resourceID := config.ResourceExtractor(c.Request.URL.Path)
			entry.ResourceType = resourceType
			if resourceID != "" {
				entry.ResourceID = &resourceID
			}
		}

		// Handlers may refine what was touched
		if rt, exists := c.Get(ContextKeyAuditResourceType); exists {
			if s, ok := rt.(string); ok {
				entry.ResourceType = s
			}
		}
		if rid, exists := c.Get(ContextKeyAuditResourceID); exists {
			if s, ok := rid.(string); ok && s != "" {
				entry.ResourceID = &s
			}
		}
		if meta, exists := c.Get(ContextKeyAuditMetadata); exists {
			if m, ok := meta.(map[string]interface{}); ok {
				entry.Metadata = m
			}
		}

		if requestBody != nil {
			if entry.Metadata == nil {
				entry.Metadata = make(map[string]interface{})
			}
			entry.Metadata["request"] = requestBody
		}

		entry.IPAddress = getClientIP(c)
		entry.UserAgent = c.GetHeader("User-Agent")
		entry.RequestID = c.GetString(ContextKeyRequestID)
		if entry.RequestID == "" {
			entry.RequestID = c.GetHeader(HeaderRequestID)
		}
		entry.TraceID = telemetry.TraceID(c.Request.Context())
		if entry.TraceID == "" {
			entry.TraceID = c.GetHeader("X-Trace-ID")
		}

		al.Log(entry)
	}
}

// defaultActionMapper maps a ledger API request to an audit action
func defaultActionMapper(method, path string) AuditAction {
	pathLower := strings.ToLower(path)

	switch {
	case strings.Contains(pathLower, "/airdrop"):
		return AuditActionAirdrop
	case strings.Contains(pathLower, "/journal/verify"):
		return AuditActionVerify
	case method == http.MethodPost && strings.HasSuffix(strings.TrimRight(pathLower, "/"), "/transactions"):
		return AuditActionSubmit
	case method == http.MethodPost:
		return AuditActionCreate
	default:
		return AuditActionView
	}
}

// defaultResourceExtractor extracts resource type and ID from path
// Example: /api/v1/accounts/<base58> -> ("account", "<base58>")
func defaultResourceExtractor(path string) (resourceType string, resourceID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	startIdx := len(parts)
	for i, part := range parts {
		if part == "api" || isVersionSegment(part) {
			continue
		}
		startIdx = i
		break
	}

	if startIdx >= len(parts) || parts[startIdx] == "" {
		return "unknown", ""
	}

	resourceType = strings.TrimSuffix(parts[startIdx], "s")

	if startIdx+1 < len(parts) && isValidID(parts[startIdx+1]) {
		resourceID = parts[startIdx+1]
	}

	return resourceType, resourceID
}

func isVersionSegment(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isValidID accepts UUIDs, numeric IDs and base58 addresses or signatures
func isValidID(s string) bool {
	if s == "" {
		return false
	}
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	numeric := true
	for _, c := range s {
		if c < '0' || c > '9' {
			numeric = false
			break
		}
	}
	if numeric {
		return true
	}
	raw, err := base58.Decode(s)
	return err == nil && (len(raw) == 32 || len(raw) == 64)
}

// getClientIP extracts the client IP address
func getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return ip
}

// maskSensitiveFields masks sensitive data in a map
func maskSensitiveFields(data map[string]interface{}, sensitiveFields []string) map[string]interface{} {
	if data == nil {
		return nil
	}

	result := make(map[string]interface{}, len(data))
	for k, v := range data {
		lowKey := strings.ToLower(k)
		masked := false
		for _, sf := range sensitiveFields {
			if strings.Contains(lowKey, strings.ToLower(sf)) {
				result[k] = "[REDACTED]"
				masked = true
				break
			}
		}
		if masked {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			result[k] = maskSensitiveFields(nested, sensitiveFields)
		} else {
			result[k] = v
		}
	}
	return result
}

// SetAuditResourceType sets the resource type for audit logging
func SetAuditResourceType(c *gin.Context, resourceType string) {
	c.Set(ContextKeyAuditResourceType, resourceType)
}

// SetAuditResourceID sets the resource ID for audit logging
func SetAuditResourceID(c *gin.Context, resourceID string) {
	c.Set(ContextKeyAuditResourceID, resourceID)
}

// SetAuditMetadata sets additional metadata for audit logging
func SetAuditMetadata(c *gin.Context, metadata map[string]interface{}) {
	c.Set(ContextKeyAuditMetadata, metadata)
}

// SkipAudit marks the current request to skip audit logging
func SkipAudit(c *gin.Context) {
	c.Set(contextKeyAuditSkip, true)
}
