// Command tls13-client dials a TLS 1.3 server and exchanges a line of
// text, grounded on test/client/main.go's crypto/tls.Dial-based shape
// (swapped for tls13.Connect over a raw net.Conn).
package main

import (
	"crypto/x509"
	"flag"
	"log"
	"net"
	"os"

	"tls13/tls13"
)

func main() {
	addr := flag.String("addr", "localhost:8443", "server address")
	serverName := flag.String("server-name", "localhost", "expected server name")
	caFile := flag.String("ca", "ca.crt", "CA certificate (PEM) to verify the server against")
	message := flag.String("message", "hello from tls13-client", "application data to send")
	offerResumption := flag.Bool("resumption", true, "offer a cached session ticket if one exists")
	flag.Parse()

	roots := x509.NewCertPool()
	if pem, err := os.ReadFile(*caFile); err == nil {
		roots.AppendCertsFromPEM(pem)
	} else {
		log.Printf("reading CA file %s: %v (falling back to system roots)", *caFile, err)
		roots = nil
	}

	config := &tls13.Config{
		ServerName: *serverName,
		RootCAs:    roots,
		OfferPSK:   *offerResumption,
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	c, err := tls13.Connect(tls13.NewTransport(conn), *serverName, config)
	if err != nil {
		log.Fatalf("handshake: %v", err)
	}
	defer c.Close()

	state := c.ConnectionState()
	log.Printf("connected (resumed=%v, cipher_suite=%#04x)", state.Resumed, uint16(state.CipherSuite))

	if _, err := c.Write([]byte(*message)); err != nil {
		log.Fatalf("write: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	if err != nil {
		log.Fatalf("read: %v", err)
	}
	log.Printf("server echoed: %s", buf[:n])
}
