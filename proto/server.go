package proto

// tcp server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Called in its own goroutine for every accepted connection.
type ConnHandler func(context.Context, net.Conn)

type Server struct {
	listener net.Listener
	limiter  *rate.Limiter
	wg       sync.WaitGroup
}

func NewServer() *Server {
	// Allowed to accept 4 connections per second, bursting to three.
	return &Server{limiter: rate.NewLimiter(rate.Every(time.Second/4), 3)}
}

func (s *Server) Listen(addr string) error {
	var err error

	s.listener, err = net.Listen("tcp", addr)

	if err != nil {
		return err
	}

	log.Info("Listening on ", s.listener.Addr().String())

	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Accepts until ctx is done or the listener is closed. Handlers get a
// context that is cancelled when Serve returns, and Serve waits for them.
func (s *Server) Serve(ctx context.Context, handler ConnHandler) error {
	if s.listener == nil {
		return errors.New("Server is not listening")
	}

	ctx, cancel := context.WithCancel(ctx)

	defer func() {
		cancel()
		s.wg.Wait()
	}()

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}

		conn, err := s.listener.Accept()

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			log.Error(err.Error())
			continue
		}

		log.WithField("remote", conn.RemoteAddr().String()).Debug("New TCP connection")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handler(ctx, conn)
		}()
	}
}

func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
}
