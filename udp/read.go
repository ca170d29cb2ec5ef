package udp

import (
	"errors"
	"net"

	"github.com/miekg/dns"

	"github.com/treemana/dnsproxy/log"
	"github.com/treemana/dnsproxy/model"
	"github.com/treemana/dnsproxy/util"
)

func (s *Server) read() {
	defer s.readWG.Done()

	bytes := make([]byte, dns.DefaultMsgSize)

	var oob []byte
	if s.oobSize > 0 {
		oob = make([]byte, s.oobSize)
	}

	for {
		n, remoteAddr, dst, err := util.Read(s.conn, bytes, oob)
		if err != nil {
			if !s.status.Load() {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				log.Sugar.Warn("server read connection closed")
				break
			}
			log.Sugar.Error("server read error : ", err)
			continue
		}

		if !s.status.Load() {
			log.Sugar.Info("server read after stopped")
			break
		}

		if n <= 0 {
			log.Sugar.Warn("server read 0 byte")
			continue
		}

		// the buffer is reused by the next read, the request goroutine needs its own copy
		packet := make([]byte, n)
		copy(packet, bytes)

		dt := &model.DT{
			SN:         s.serial.Add(1),
			RemoteAddr: remoteAddr,
			LocalIP:    dst,
			Request:    packet,
		}

		s.reqWG.Add(1)
		go func() {
			defer s.reqWG.Done()
			s.handle(dt)
		}()
	}
}
