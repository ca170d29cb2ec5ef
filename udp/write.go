package udp

import (
	"encoding/binary"
	"errors"

	"go.uber.org/zap"

	"github.com/treemana/dnsproxy/log"
	"github.com/treemana/dnsproxy/model"
	"github.com/treemana/dnsproxy/util"
	"github.com/treemana/dnsproxy/wire"
)

// handle answers one datagram, nothing is sent when it can't be decoded
func (s *Server) handle(dt *model.DT) {
	l := log.Request(dt.SN, dt.RemoteAddr)

	q, err := wire.Decode(dt.Request)
	if err != nil {
		if errors.Is(err, wire.ErrUnsupportedOpcode) {
			l.Debugf("skipped, %v", err)
			return
		}
		l.Errorf("decode error=[%+v]", err)
		return
	}

	dt.Domain = q.Domain
	id := binary.BigEndian.Uint16(q.ID[:])

	ip, ok := s.policy.Resolve(s.ctx, q.Domain)
	if !ok {
		// failed resolutions are redirected to the proxy too
		ip = s.proxyIP
	}
	dt.Answer = ip

	if ip == s.proxyIP {
		l.Debugf("id=%d, %s -> %s (replay web proxy)", id, dt.Domain, ip)
	} else {
		l.Debugf("id=%d, %s -> %s", id, dt.Domain, ip)
	}

	if dt.Response = wire.Encode(q, ip); len(dt.Response) == 0 {
		l.Warnf("id=%d, empty response for %s -> %s", id, dt.Domain, ip)
		return
	}

	s.write(l, dt)
}

func (s *Server) write(l *zap.SugaredLogger, dt *model.DT) {
	if dt.RemoteAddr == nil {
		l.Debugf("remote addr nil, [%s]", dt.Domain)
		return
	}

	if err := util.Write(s.conn, dt.Response, dt.RemoteAddr, dt.LocalIP); err != nil {
		l.Errorf("udp connection write error=[%+v]", err)
		return
	}

	l.Infof("%s answer %s", dt.Domain, dt.Answer)
}
