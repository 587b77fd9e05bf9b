// Command demo walks through one audit round in process: two authorities,
// a whitelist of three participants, a deposit and a transfer, the authority
// logins and the recovery of every hidden value.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/audit"
	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
	"github.com/allsmog/zkaudit-go/pkg/crypto/elgamal"
	"github.com/allsmog/zkaudit-go/pkg/crypto/hash"
	"github.com/allsmog/zkaudit-go/pkg/crypto/schnorr"
	"github.com/allsmog/zkaudit-go/pkg/eventlog"
	"github.com/allsmog/zkaudit-go/pkg/storage"
	"github.com/allsmog/zkaudit-go/pkg/transfer"
	"github.com/allsmog/zkaudit-go/pkg/whitelist"
)

const height = 8

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(context.Background(), log); err != nil {
		log.Fatal("demo failed", zap.Error(err))
	}
}

func run(ctx context.Context, log *zap.Logger) error {
	crv := curve.NewBabyJubJub()

	shares := make([]curve.Scalar, 2)
	pks := make([]curve.Point, len(shares))
	for i := range shares {
		sk, err := crv.GenerateScalar()
		if err != nil {
			return err
		}
		shares[i], pks[i] = sk, crv.ScalarBaseMult(sk)
	}
	authority, err := elgamal.NewAuthority(crv, pks...)
	if err != nil {
		return err
	}

	tree, err := storage.NewWhitelistTree(hash.MiMC{}, height, log.Named("tree"))
	if err != nil {
		return err
	}
	paths, err := whitelist.NewClient(tree, height, whitelist.WithLogger(log.Named("whitelist")))
	if err != nil {
		return err
	}
	builder, err := transfer.NewBuilder(authority, hash.MiMC{}, paths, log.Named("transfer"))
	if err != nil {
		return err
	}

	names := []string{"alice", "bob", "carol"}
	users := make(map[string]curve.Point, len(names))
	for _, name := range names {
		sk, err := crv.GenerateScalar()
		if err != nil {
			return err
		}
		users[name] = crv.ScalarBaseMult(sk)

		key, err := builder.WhitelistKey(users[name])
		if err != nil {
			return err
		}
		leaf, err := tree.Insert(key)
		if err != nil {
			return err
		}
		log.Info("whitelisted", zap.String("user", name), zap.Uint64("leaf", leaf))
	}
	log.Info("whitelist root", zap.String("root", tree.Root().String()))

	deposit, err := builder.Build(ctx, transfer.Request{
		Kind:      eventlog.Deposit,
		Amount:    big.NewInt(500),
		Recipient: users["alice"],
		Salt:      big.NewInt(1),
	})
	if err != nil {
		return errors.Wrap(err, "deposit")
	}
	payment, err := builder.Build(ctx, transfer.Request{
		Kind:       eventlog.Transfer,
		Amount:     big.NewInt(120),
		Sender:     users["alice"],
		Recipient:  users["carol"],
		Salt:       big.NewInt(2),
		NoteSecret: big.NewInt(3),
	})
	if err != nil {
		return errors.Wrap(err, "transfer")
	}
	events := []eventlog.Event{deposit.Event("0x01"), payment.Event("0x02")}

	book, err := audit.NewShareBook(authority, time.Minute, log.Named("shares"))
	if err != nil {
		return err
	}
	defer func() { _ = book.Close() }()

	for i, x := range shares {
		if err := login(crv, i, x); err != nil {
			return errors.Wrapf(err, "authority %d login", i)
		}
		if err := book.Submit(i, x); err != nil {
			return err
		}
		log.Info("share provisioned", zap.Int("authority", i), zap.Bool("complete", book.Complete()))
	}

	decryptor, err := eventlog.NewDecryptor(authority,
		eventlog.WithBounds(eventlog.Bounds{Amount: 1 << 10, KeyID: 1 << height}),
		eventlog.WithLogger(log.Named("eventlog")),
	)
	if err != nil {
		return err
	}
	results, err := decryptor.DecryptBatch(ctx, events)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
		fields := []zap.Field{zap.String("tx", res.Record.TxHash), zap.String("kind", string(res.Record.Kind))}
		for f, v := range res.Record.Values {
			fields = append(fields, zap.String(string(f), v.String()))
		}
		log.Info("recovered", fields...)
	}
	return nil
}

// login runs the identification protocol for authority index locally.
func login(crv curve.Curve, index int, x curve.Scalar) error {
	T, r, err := schnorr.GenerateCommitment(crv)
	if err != nil {
		return err
	}
	binding := schnorr.Context{
		Audience:        "zkaudit-demo",
		AuthorityIndex:  index,
		Timeslice:       time.Now().UTC().Truncate(time.Minute).Format(time.RFC3339),
		ServerEphemeral: []byte{byte(index)},
	}
	s, err := schnorr.Respond(crv, x, T, r, binding)
	if err != nil {
		return err
	}
	return schnorr.Verify(crv, crv.ScalarBaseMult(x).Bytes(), T, s.Bytes(), binding)
}
