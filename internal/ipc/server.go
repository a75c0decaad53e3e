package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediapub/internal/api"
	"mediapub/internal/daemon"
	"mediapub/internal/logging"
	"mediapub/internal/services"
	"mediapub/internal/store"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *zap.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *zap.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.Component(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", zap.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed", zap.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket", zap.String("socket", s.path), zap.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *zap.Logger
	ctx    context.Context
}

// request returns a context and logger tagged with a fresh correlation id.
func (s *service) request(method string) (context.Context, *zap.Logger) {
	ctx := services.WithRequestID(s.ctx, uuid.NewString())
	return ctx, logging.WithContext(ctx, s.logger).With(zap.String("method", method))
}

func (s *service) fail(logger *zap.Logger, err error) error {
	if errors.Is(err, daemon.ErrForbidden) {
		logger.Warn("request denied", zap.Error(err))
	} else {
		logger.Debug("request failed", zap.Error(err))
	}
	return err
}

func (s *service) WatcherStatus(_ WatcherStatusRequest, resp *WatcherStatusResponse) error {
	_, logger := s.request("WatcherStatus")
	snap, err := s.daemon.WatcherStatus()
	if err != nil {
		return s.fail(logger, err)
	}
	resp.Watcher = daemon.WatcherPayload(snap)
	return nil
}

func (s *service) WatcherStart(_ WatcherStartRequest, resp *WatcherStartResponse) error {
	ctx, logger := s.request("WatcherStart")
	if err := s.daemon.StartWatcher(ctx); err != nil {
		return s.fail(logger, err)
	}
	logger.Info("watcher started via IPC")
	snap, _ := s.daemon.WatcherStatus()
	resp.Watcher = daemon.WatcherPayload(snap)
	return nil
}

func (s *service) WatcherStop(_ WatcherStopRequest, resp *WatcherStopResponse) error {
	ctx, logger := s.request("WatcherStop")
	if err := s.daemon.StopWatcher(ctx); err != nil {
		return s.fail(logger, err)
	}
	logger.Info("watcher stopped via IPC")
	snap, _ := s.daemon.WatcherStatus()
	resp.Watcher = daemon.WatcherPayload(snap)
	return nil
}

func (s *service) RetryPackages(req RetryPackagesRequest, resp *RetryPackagesResponse) error {
	ctx, logger := s.request("RetryPackages")
	ids, err := s.daemon.RetryPackages(ctx, req.IDs)
	if err != nil {
		return s.fail(logger, err)
	}
	resp.IDs = ids
	logger.Info("packages retried via IPC", zap.Int("count", len(ids)))
	return nil
}

func (s *service) UploadPackages(req UploadPackagesRequest, resp *UploadPackagesResponse) error {
	ctx, logger := s.request("UploadPackages")
	ids, err := s.daemon.UploadPackages(ctx, req.IDs, req.Platform)
	if err != nil {
		return s.fail(logger, err)
	}
	resp.IDs = ids
	logger.Info("packages sent to upload via IPC",
		zap.Int("count", len(ids)), zap.String(logging.FieldPlatform, req.Platform))
	return nil
}

func (s *service) PackageList(req PackageListRequest, resp *PackageListResponse) error {
	ctx, logger := s.request("PackageList")
	filter := daemon.ListFilter{Platform: req.Platform, Search: req.Search, Limit: req.Limit}
	for _, name := range req.States {
		state, ok := store.ParseState(name)
		if !ok {
			return fmt.Errorf("unknown state %q", strings.TrimSpace(name))
		}
		filter.States = append(filter.States, state)
	}
	pkgs, err := s.daemon.ListPackages(ctx, filter)
	if err != nil {
		return s.fail(logger, err)
	}
	resp.Packages = api.FromPackages(pkgs)
	return nil
}

func (s *service) PackageDescribe(req PackageDescribeRequest, resp *PackageDescribeResponse) error {
	ctx, logger := s.request("PackageDescribe")
	pkg, err := s.daemon.DescribePackage(ctx, req.ID)
	if err != nil {
		return s.fail(logger, err)
	}
	resp.Package = api.FromPackage(pkg)
	return nil
}

func (s *service) PackageRemove(req PackageRemoveRequest, resp *PackageRemoveResponse) error {
	ctx, logger := s.request("PackageRemove")
	if err := s.daemon.RemovePackage(ctx, req.ID); err != nil {
		return s.fail(logger, err)
	}
	resp.Removed = true
	logger.Info("package removed via IPC", zap.String(logging.FieldPackageID, req.ID))
	return nil
}

func (s *service) PackagePublish(req PackagePublishRequest, resp *PackagePublishResponse) error {
	ctx, logger := s.request("PackagePublish")
	pkg, err := s.daemon.PublishPackage(ctx, req.ID, req.Publish)
	if err != nil {
		return s.fail(logger, err)
	}
	resp.Package = api.FromPackage(pkg)
	logger.Info("package publication changed via IPC",
		zap.String(logging.FieldPackageID, pkg.ID), zap.Stringer(logging.FieldState, pkg.State))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	ctx, _ := s.request("Status")
	resp.Status = daemon.StatusPayload(s.daemon.Status(ctx))
	return nil
}
