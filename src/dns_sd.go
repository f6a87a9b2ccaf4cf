package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Announce the KISS over TCP service using DNS-SD
 *
 * Description:
 *
 *     Most people have typed in enough IP addresses and ports by now, and
 *     would rather just select an available TNC that is automatically
 *     discovered on the local network.  Even more so on a mobile device
 *     such an Android or iOS phone or tablet.
 */

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

const DNSSDService = "_kiss-tnc._tcp"

// DNSSDDefaultName is "freedvtnc on <hostname>", or just "freedvtnc" if the
// hostname cannot be obtained.
func DNSSDDefaultName() string {
	var hostname, err = os.Hostname()
	if err != nil {
		return "freedvtnc"
	}

	// On some systems, an FQDN is returned; remove domain part.
	hostname, _, _ = strings.Cut(hostname, ".")

	return "freedvtnc on " + hostname
}

// AnnounceKISSTCP responds to DNS-SD queries for the KISS TCP port until ctx is done.
func AnnounceKISSTCP(ctx context.Context, name string, port int, logger *log.Logger) error {
	logger = logger.WithPrefix("dns-sd")

	if name == "" {
		name = DNSSDDefaultName()
	}

	var sv, err = dnssd.NewService(dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: DNSSDService,
		Port: port,
	})
	if err != nil {
		return fmt.Errorf("dns-sd: create service: %w", err)
	}

	var rp, rpErr = dnssd.NewResponder()
	if rpErr != nil {
		return fmt.Errorf("dns-sd: create responder: %w", rpErr)
	}

	if _, err := rp.Add(sv); err != nil {
		return fmt.Errorf("dns-sd: add service: %w", err)
	}

	logger.Info("Announcing KISS TCP", "port", port, "name", name)

	if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dns-sd: responder: %w", err)
	}

	return nil
}
