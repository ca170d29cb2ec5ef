package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/treemana/dnsproxy/log"
	"github.com/treemana/dnsproxy/model"
	"github.com/treemana/dnsproxy/util"
)

// Query return the addresses of host for qType.
// The error is model.ErrNotFound, model.ErrNoAnswer or model.ErrTimeout.
func (s *UpStream) Query(ctx context.Context, host string, qType uint16) ([]netip.Addr, error) {
	req := util.DNSNewQuestion(host, qType)

	var lastErr = model.ErrNoAnswer
	for _, ns := range s.nameservers {
		addrs, err := s.exchange(ctx, ns, req)
		if err == nil {
			return addrs, nil
		}

		if errors.Is(err, model.ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}

func (s *UpStream) exchange(ctx context.Context, ns nameserver, req *dns.Msg) ([]netip.Addr, error) {
	q := req.Question[0]

	resp, rtt, err := ns.client.ExchangeContext(ctx, req, ns.addr)
	if err != nil {
		log.Sugar.Debugf("%s [%s] error=[%+v]", ns.u.String(), q.String(), err)

		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: %s", model.ErrTimeout, ns.u.String())
		}
		return nil, fmt.Errorf("%w: %s %v", model.ErrNoAnswer, ns.u.String(), err)
	}

	log.Sugar.Debugf("%s [%s] %s answer %d, cost %s", ns.u.String(), q.String(), dns.RcodeToString[resp.Rcode], len(resp.Answer), rtt.Round(time.Microsecond))

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, q.Name)
	default:
		return nil, fmt.Errorf("%w: %s rcode %s", model.ErrNoAnswer, ns.u.String(), dns.RcodeToString[resp.Rcode])
	}

	addrs := util.DNSAnswerAddrs(resp, q.Qtype)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrNoAnswer, q.Name)
	}

	return addrs, nil
}
