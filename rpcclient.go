// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// startRPCClient dials the dcrwallet gRPC server named by the config.
func startRPCClient(ctx context.Context) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption

	if cfg.DisableClientTLS {
		log.Warn("Client TLS is disabled -- this should only be used " +
			"with a wallet on localhost")
		opts = append(opts, grpc.WithInsecure())
	} else {
		host, _, err := net.SplitHostPort(cfg.RPCConnect)
		if err != nil {
			return nil, err
		}
		creds, err := credentials.NewClientTLSFromFile(cfg.CAFile.Value, host)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}
	opts = append(opts, grpc.WithBlock())

	log.Infof("Connecting to dcrwallet at %s", cfg.RPCConnect)
	return grpc.DialContext(ctx, cfg.RPCConnect, opts...)
}
