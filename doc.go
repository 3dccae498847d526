// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package as2lib implements the core of an AS2 (Applicability Statement 2,
RFC 4130 / RFC 5402) message sender: it transforms an application payload
through an optional compress/sign/encrypt pipeline, transmits it over
HTTP(S) to a trading partner, and reconciles the resulting Message
Disposition Notification (MDN) — synchronously on the same HTTP response
or asynchronously via a later callback.

# Overview

AS2 layers S/MIME (RFC 5751) security over plain HTTP to move EDI
documents between trading partners without a value-added network. This
core owns the three hard parts of that exchange:

  - the S/MIME security pipeline (compress/sign/encrypt, in
    protocol-mandated order, with the Message Integrity Check computed
    over exactly the bytes the protocol requires)
  - the send/receive-MDN state machine (synchronous MDN parsing,
    asynchronous MDN deferral, MIC comparison, retry classification)
  - the directory-polling ingress that stabilizes files before handing
    them to the sender

Configuration/partnership lookup, the receiver side (inbound AS2/MDN HTTP
server), and CLI wrappers are treated as external collaborators; only
their interfaces are specified here.

# Package Structure

	github.com/Shucki/as2-lib/internal/sender     - send orchestrator (checkRequired, retries, terminal errors)
	github.com/Shucki/as2-lib/internal/pipeline   - compress/sign/encrypt pipeline
	github.com/Shucki/as2-lib/internal/headers    - outbound AS2 HTTP header assembly
	github.com/Shucki/as2-lib/internal/mdn        - synchronous MDN parsing and reconciliation
	github.com/Shucki/as2-lib/internal/pending    - filesystem-backed async-MDN pending store
	github.com/Shucki/as2-lib/internal/poller     - outbox directory polling ingress
	github.com/Shucki/as2-lib/internal/dump       - optional request/response tee to disk
	github.com/Shucki/as2-lib/internal/keystore   - certificate/key alias resolution (file, PKCS#11)
	github.com/Shucki/as2-lib/internal/config     - YAML sender/partnership configuration
	github.com/Shucki/as2-lib/pkg/message         - Message, Partnership, MIC, MDN data model
	github.com/Shucki/as2-lib/pkg/security        - CryptoProvider: MIC, sign, encrypt, compress
	github.com/Shucki/as2-lib/pkg/transport       - HTTP(S) transport
	github.com/Shucki/as2-lib/pkg/mime            - MIME parsing and canonicalization
	github.com/Shucki/as2-lib/pkg/compression     - RFC 3274 zlib compression
	github.com/Shucki/as2-lib/pkg/as2err          - error taxonomy

# Quick Start

To send a message:

	import (
		"context"

		"github.com/Shucki/as2-lib/internal/keystore"
		"github.com/Shucki/as2-lib/internal/poller"
		"github.com/Shucki/as2-lib/internal/sender"
		"github.com/Shucki/as2-lib/pkg/message"
	)

	certs, _ := keystore.NewProvider(keystoreConfig)
	s := sender.New(certs, nil, sender.Config{}, nil)

	p := &message.Partnership{
		SenderAS2ID:   "MyCompanyAS2",
		ReceiverAS2ID: "AcmeAS2",
		URL:           "https://acme.example.com/as2",
		SignAlgorithm:   "sha256",
		SenderCertAlias: "mycompany",
		MDNMode:         message.MDNSync,
	}

	body := message.NewBodyPart("application/EDI-X12", payload)
	msg := message.New(message.NewMessageID(), body, p)
	msg.Subject = "850 Purchase Order"
	msg.SenderEmail = "as2@mycompany.example.com"

	err := s.Send(context.Background(), msg)

Or, to watch a directory and send anything dropped into it:

	dp, _ := poller.New(poller.Config{
		OutboxDir: "/var/as2/outbox",
		ErrorDir:  "/var/as2/error",
		SentDir:   "/var/as2/sent",
	}, s, myPartnershipResolver, nil)
	go dp.Run(ctx)

# Security Pipeline

Compression, signing, and encryption are applied in the protocol-mandated
order (compress-before-sign, if configured; sign; compress-after-sign, if
configured; encrypt), and the MIC is computed over exactly the bytes the
protocol says it must, headers included where RFC 4130 §7.3.1 and RFC
5402 §4.1 require it. See internal/pipeline and pkg/security.

# Interoperability

This core follows RFC 4130 and RFC 5402 for the send path and RFC 3798
for MDN structure; it does not implement AS1 or AS3.

# License

BSD-2-Clause License
*/
package as2lib
