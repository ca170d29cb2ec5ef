package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/treemana/dnsproxy/log"
	"github.com/treemana/dnsproxy/model"
	"github.com/treemana/dnsproxy/policy"
	"github.com/treemana/dnsproxy/util"
)

const (
	DefaultPort = 53

	// how long Stop waits for in-flight requests before cancelling their lookups
	defaultTimeout = 10 * time.Second
)

type Configure struct {
	Host string
	Port int

	// ProxyIP answered for every redirected name, defaults to Host
	ProxyIP netip.Addr
}

type Server struct {
	address *net.UDPAddr
	proxyIP netip.Addr
	policy  policy.Policy

	conn    *net.UDPConn
	oobSize int // zero when packet info is off

	status  atomic.Bool // running status
	stopped atomic.Bool

	readWG sync.WaitGroup
	reqWG  sync.WaitGroup
	serial atomic.Uint64

	ctx      context.Context
	cancelFn context.CancelFunc
}

// New validates c and binds the socket.
// A nil p answers every name with the proxy address.
// Errors are *model.ConfigurationError or *model.BindError.
func New(c Configure, p policy.Policy) (*Server, error) {

	var ip = net.IPv4zero
	if len(c.Host) > 0 {
		addr, err := netip.ParseAddr(c.Host)
		if err != nil || !addr.Unmap().Is4() {
			return nil, &model.ConfigurationError{Field: "server.host", Reason: fmt.Sprintf("%q is not an ipv4 address", c.Host)}
		}
		ip = net.IP(addr.Unmap().AsSlice())
	}

	if c.Port < 0 || c.Port > 65535 {
		return nil, &model.ConfigurationError{Field: "server.port", Reason: "must be 0..65535, got " + strconv.Itoa(c.Port)}
	}

	proxyIP := c.ProxyIP.Unmap()
	if !proxyIP.IsValid() && !ip.IsUnspecified() {
		proxyIP, _ = netip.AddrFromSlice(ip.To4())
	}
	if !proxyIP.Is4() || proxyIP.IsUnspecified() {
		return nil, &model.ConfigurationError{Field: "server.proxy_ip", Reason: "an ipv4 address is needed when host is empty or unspecified"}
	}

	if p == nil {
		p = policy.Fixed{ProxyIP: proxyIP}
	}

	s := &Server{
		address: &net.UDPAddr{IP: ip, Port: c.Port},
		proxyIP: proxyIP,
		policy:  p,
	}

	if err := s.setConn(); err != nil {
		return nil, err
	}

	s.ctx, s.cancelFn = context.WithCancel(context.Background())

	log.Sugar.Infof("server listening on %s, proxy ip %s", s.conn.LocalAddr(), s.proxyIP)

	return s, nil
}

func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *Server) ProxyIP() netip.Addr {
	return s.proxyIP
}

func (s *Server) Start() {
	if s.stopped.Load() || s.status.Swap(true) {
		return
	}

	s.readWG.Add(1)
	go s.read()

	log.Sugar.Info("server running ...")
}

// Stop stops reading, waits for in-flight requests and closes the socket
func (s *Server) Stop() {
	if s.stopped.Swap(true) {
		return
	}

	log.Sugar.Info("server read stopping")
	s.status.Store(false)

	// wake the blocked read
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		log.Sugar.Warnf("server udp connection set deadline error=[%+v]", err)
	}
	s.readWG.Wait()
	log.Sugar.Info("server read stopped")

	log.Sugar.Info("server waiting all request done")
	done := make(chan struct{})
	go func() {
		s.reqWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(defaultTimeout):
		log.Sugar.Warn("server timeout waiting requests, cancelling lookups")
		s.cancelFn()
		<-done
	}
	s.cancelFn()

	if err := s.conn.Close(); err != nil {
		log.Sugar.Errorf("server udp connection close error=[%+v]", err)
	}
	log.Sugar.Infof("server stopped, serial=%d", s.serial.Load())
}

func (s *Server) setConn() error {
	var err error
	if s.conn, err = net.ListenUDP("udp4", s.address); err != nil {
		log.Sugar.Errorf("server udp [%s] listen error=[%+v]", s.address, err)
		return bindError(s.address.String(), err)
	}

	// a wildcard listener replies from the address each query was sent to
	if s.address.IP.IsUnspecified() {
		if err = util.SetControlMessage(s.conn); err != nil {
			log.Sugar.Warnf("server udp [%s] connection set control error=[%+v]", s.address, err)
		} else {
			s.oobSize = util.GetOOBSize()
		}
	}

	return nil
}

func bindError(address string, err error) *model.BindError {
	return &model.BindError{
		Address:    address,
		Permission: errors.Is(err, os.ErrPermission),
		Err:        err,
	}
}
