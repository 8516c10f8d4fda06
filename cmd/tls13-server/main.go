// Command tls13-server runs a minimal TLS 1.3 echo server, grounded on
// test/stls/server_tls13.go's listen/accept/process shape (swapping the
// teacher's push-based stls.Server/Eat loop for tls13.Accept's blocking
// Conn).
package main

import (
	"context"
	"crypto"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"tls13/tls13"
)

func main() {
	addr := flag.String("addr", ":8443", "listen address")
	certFile := flag.String("cert", "server.crt", "server certificate (PEM)")
	keyFile := flag.String("key", "server.key", "server private key (PEM)")
	acceptResumption := flag.Bool("resumption", true, "accept PSK-based session resumption")
	acceptEarlyData := flag.Bool("early-data", false, "accept 0-RTT early data")
	flag.Parse()

	cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
	if err != nil {
		log.Fatalf("loading certificate: %v", err)
	}
	priv, ok := cert.PrivateKey.(crypto.Signer)
	if !ok {
		log.Fatalf("server private key does not implement crypto.Signer")
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	config := &tls13.Config{
		Certificates: []tls13.Certificate{{
			Chain:      cert.Certificate,
			PrivateKey: priv,
		}},
		AcceptResumption: *acceptResumption,
		AcceptEarlyData:  *acceptEarlyData,
		MaxEarlyDataSize: 16 * 1024,
		Logger:           &logger,
	}

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("tls13-server listening on %s", *addr)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Printf("accept: %v", err)
			continue
		}
		go serve(conn, config)
	}
}

func serve(conn net.Conn, config *tls13.Config) {
	defer conn.Close()

	c, err := tls13.Accept(tls13.NewTransport(conn), config)
	if err != nil {
		log.Printf("handshake with %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer c.Close()

	if early := c.ReadEarlyData(); len(early) > 0 {
		log.Printf("%s sent %d bytes of early data", conn.RemoteAddr(), len(early))
		echo(c, early)
	}

	log.Printf("%s connected (resumed=%v, cipher_suite=%#04x)",
		conn.RemoteAddr(), c.ConnectionState().Resumed, uint16(c.ConnectionState().CipherSuite))

	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if err != nil {
			if err != tls13.ErrClosed {
				log.Printf("read from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		echo(c, buf[:n])
	}
}

func echo(c *tls13.Conn, data []byte) {
	if _, err := c.Write(data); err != nil {
		log.Printf("write: %v", err)
	}
}
