// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/decred/dcrd/certgen"
)

// openTLSKeyPair creates or loads the TLS key pair presented to the users.
// An error is returned if a one time TLS key is requested but a key
// already exists on disk, since a persistent certificate may have been
// copied to a user's machine.
func openTLSKeyPair() (tls.Certificate, error) {
	_, e := os.Stat(cfg.TLSKey.Value)
	keyExists := !os.IsNotExist(e)
	switch {
	case cfg.OneTimeTLSKey && keyExists:
		err := fmt.Errorf("one time TLS keys are enabled, but TLS key "+
			"`%s` already exists", cfg.TLSKey.Value)
		return tls.Certificate{}, err
	case cfg.OneTimeTLSKey:
		return generateTLSKeyPair(false)
	case !keyExists:
		return generateTLSKeyPair(true)
	default:
		return tls.LoadX509KeyPair(cfg.TLSCert.Value, cfg.TLSKey.Value)
	}
}

// generateTLSKeyPair generates a new TLS certificate and writes it to
// disk.  The key is only written when writeKey is set.
func generateTLSKeyPair(writeKey bool) (tls.Certificate, error) {
	log.Infof("Generating TLS certificates...")

	certDir, _ := filepath.Split(cfg.TLSCert.Value)
	keyDir, _ := filepath.Split(cfg.TLSKey.Value)
	err := os.MkdirAll(certDir, 0700)
	if err != nil {
		return tls.Certificate{}, err
	}
	err = os.MkdirAll(keyDir, 0700)
	if err != nil {
		return tls.Certificate{}, err
	}

	org := "joinswapd autogenerated cert"
	validUntil := time.Now().Add(time.Hour * 24 * 365 * 10)
	host, _, err := net.SplitHostPort(cfg.Listen)
	if err != nil {
		return tls.Certificate{}, err
	}
	cert, key, err := certgen.NewTLSCertPair(cfg.TLSCurve.ECDSACurve(),
		org, validUntil, []string{host})
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPair, err := tls.X509KeyPair(cert, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	err = ioutil.WriteFile(cfg.TLSCert.Value, cert, 0644)
	if err != nil {
		return tls.Certificate{}, err
	}
	if writeKey {
		err = ioutil.WriteFile(cfg.TLSKey.Value, key, 0600)
		if err != nil {
			rmErr := os.Remove(cfg.TLSCert.Value)
			if rmErr != nil {
				log.Warnf("Cannot remove written certificate: %v",
					rmErr)
			}
			return tls.Certificate{}, err
		}
	}

	log.Infof("Done generating TLS certificates (%s)", cfg.TLSCert.Value)
	return keyPair, nil
}

// listen opens the listener accepting user connections.
func listen() (net.Listener, error) {
	if cfg.DisableServerTLS {
		log.Warn("Server TLS is disabled -- user connections are not " +
			"encrypted")
		return net.Listen("tcp", cfg.Listen)
	}

	keyPair, err := openTLSKeyPair()
	if err != nil {
		return nil, err
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{keyPair},
		MinVersion:   tls.VersionTLS12,
	}
	return tls.Listen("tcp", cfg.Listen, tlsConfig)
}
