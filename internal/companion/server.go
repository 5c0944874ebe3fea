package companion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/sinkguard/internal/audit"
)

// Config update outcomes returned by UpdateConfig.
const (
	ConfigStored    = "stored"
	ConfigSameToken = "same_token"
)

// ServerConfig wires a Server.
type ServerConfig struct {
	Version string
	Store   *Store
	Journal *audit.Log
	Metrics *Metrics
	Logger  *zap.Logger
}

// Server implements AgentServer.
type Server struct {
	cfg     ServerConfig
	log     *zap.Logger
	started time.Time
	grpc    *grpc.Server
}

// NewServer builds a Server. Journal and Metrics are optional.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("companion: server needs a store")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger.With(zap.String("mod", "companion")),
		started: time.Now(),
	}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.countRPC))
	RegisterAgentServer(s.grpc, s)
	return s, nil
}

// Listen binds the unix socket at path, replacing a stale one.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		lis.Close()
		return nil, fmt.Errorf("failed to chmod socket: %w", err)
	}
	return lis, nil
}

// ServeOn serves on lis. Blocks until stopped.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop waits for in-flight RPCs and stops serving.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

func (s *Server) countRPC(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	result := "ok"
	if err != nil {
		result = "error"
		s.log.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
	}
	s.cfg.Metrics.RPCs.WithLabelValues(filepath.Base(info.FullMethod), result).Inc()
	return resp, err
}

func (s *Server) journal(e audit.Entry) {
	if s.cfg.Journal == nil {
		return
	}
	if _, err := s.cfg.Journal.Record(e); err != nil {
		s.log.Warn("journal write failed", zap.String("kind", e.Kind), zap.Error(err))
		return
	}
	s.cfg.Metrics.JournalEntries.Set(float64(s.cfg.Journal.Len()))
}

// Ping implements AgentServer.
func (s *Server) Ping(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"version": s.cfg.Version,
		"pid":     os.Getpid(),
	})
}

// ReportStats implements AgentServer.
func (s *Server) ReportStats(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	row, err := statsFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.cfg.Store.AddStats(ctx, row); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.cfg.Metrics.Detected.WithLabelValues(row.Sink).Add(float64(row.Detected))
	s.cfg.Metrics.Blocked.WithLabelValues(row.Sink).Add(float64(row.Blocked))
	if row.Detected > 0 || row.Blocked > 0 || row.Errored > 0 {
		s.journal(audit.Entry{
			Kind: audit.KindStats,
			Stats: &audit.StatsDigest{
				Sink:           row.Sink,
				Kind:           row.Kind,
				Detected:       row.Detected,
				Blocked:        row.Blocked,
				Errored:        row.Errored,
				WithoutContext: row.WithoutContext,
				Total:          row.Total,
			},
		})
	}
	return &emptypb.Empty{}, nil
}

// UpdateConfig implements AgentServer. The payload is stored verbatim;
// only a token change is journalled.
func (s *Server) UpdateConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	token := f["token"].GetStringValue()
	payload := f["config"].GetStringValue()
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "config update has no token")
	}
	changed, err := s.cfg.Store.SaveConfig(ctx, token, payload)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	result := ConfigSameToken
	if changed {
		result = ConfigStored
		s.journal(audit.Entry{Kind: audit.KindConfig, Token: audit.Fingerprint(token)})
		s.log.Info("configuration updated", zap.String("token", audit.Fingerprint(token)))
	}
	s.cfg.Metrics.ConfigUpdates.WithLabelValues(result).Inc()
	return structpb.NewStruct(map[string]any{"result": result})
}

// ReportPackages implements AgentServer.
func (s *Server) ReportPackages(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	pkgs := packagesFromStruct(in)
	if len(pkgs) == 0 {
		return &emptypb.Empty{}, nil
	}
	if err := s.cfg.Store.UpsertPackages(ctx, pkgs); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	all, err := s.cfg.Store.Packages(ctx)
	if err == nil {
		s.cfg.Metrics.PackagesKnown.Set(float64(len(all)))
	}
	s.journal(audit.Entry{Kind: audit.KindPackages, Detail: fmt.Sprintf("%d packages", len(pkgs))})
	return &emptypb.Empty{}, nil
}

// Status implements AgentServer.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	token, _, err := s.cfg.Store.Config(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	pkgs, err := s.cfg.Store.Packages(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	rows, err := s.cfg.Store.Stats(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	sinks := make(map[string]any, len(rows))
	for _, r := range rows {
		sinks[r.Sink] = map[string]any{
			"kind":     r.Kind,
			"reports":  r.Reports,
			"detected": r.Detected,
			"blocked":  r.Blocked,
			"errored":  r.Errored,
		}
	}
	out := map[string]any{
		"version":        s.cfg.Version,
		"pid":            os.Getpid(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"token":          audit.Fingerprint(token),
		"packages":       len(pkgs),
		"sinks":          sinks,
	}
	if s.cfg.Journal != nil {
		out["journal_entries"] = s.cfg.Journal.Len()
		out["session"] = s.cfg.Journal.Session()
	}
	return structpb.NewStruct(out)
}
