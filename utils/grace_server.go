package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	// inheritedListenerEnv marks a child started by a graceful restart; its
	// listening socket arrives as file descriptor 3.
	inheritedListenerEnv = "AIBLOG_INHERIT_LISTENER"
	inheritedListenerFD  = 3
)

// Server is an http.Server that drains connections on SIGTERM/SIGINT and hands
// its socket to a fresh process on SIGUSR2.
type Server struct {
	*http.Server
	ShutdownTimeout time.Duration

	listener net.Listener
}

// NewServer creates a Server with timeouts and handler.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       defaultReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      defaultWriteTimeout,
		},
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// Run serves until ctx is cancelled or a stop signal arrives, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	ln, err := srv.listen()
	if err != nil {
		return err
	}
	srv.listener = ln

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	Logger.Info("http server listening", zap.String("addr", ln.Addr().String()))

	for {
		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			return srv.drain()
		case sig := <-sigs:
			if sig == syscall.SIGUSR2 {
				pid, err := srv.handOver()
				if err != nil {
					Logger.Error("graceful restart failed, continue serving", zap.Error(err))
					continue
				}
				Logger.Info("graceful restart started new process", zap.Int("pid", pid))
			} else {
				Logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			}
			return srv.drain()
		}
	}
}

func (srv *Server) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), srv.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	Logger.Info("http server stopped")
	return nil
}

func (srv *Server) listen() (net.Listener, error) {
	if os.Getenv(inheritedListenerEnv) != "" {
		ln, err := net.FileListener(os.NewFile(inheritedListenerFD, "listener"))
		if err != nil {
			return nil, fmt.Errorf("inherit listener: %w", err)
		}
		return ln, nil
	}
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// handOver starts a copy of this binary that inherits the listening socket.
func (srv *Server) handOver() (int, error) {
	tcpLn, ok := srv.listener.(*net.TCPListener)
	if !ok {
		return 0, errors.New("listener is not a TCP listener")
	}
	file, err := tcpLn.File()
	if err != nil {
		return 0, fmt.Errorf("listener file: %w", err)
	}
	defer file.Close()

	env := append(os.Environ(), inheritedListenerEnv+"=1")
	pid, err := syscall.ForkExec(os.Args[0], os.Args, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), file.Fd()},
	})
	if err != nil {
		return 0, fmt.Errorf("fork exec: %w", err)
	}
	return pid, nil
}

// GraceServer serves handler on addr until a stop signal arrives.
func GraceServer(addr string, handler http.Handler) error {
	return NewServer(addr, handler).Run(context.Background())
}
