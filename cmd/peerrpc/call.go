package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/maxpoletaev/peerrpc/messaging"
	"github.com/maxpoletaev/peerrpc/netmsg"
	"github.com/maxpoletaev/peerrpc/seqno"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

var callCommand = &cli.Command{
	Name:      "call",
	Usage:     "send a single message to a node or a mirror group and print the response",
	ArgsUsage: "[payload-hex]",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "node", Usage: "target node id"},
		&cli.UintFlag{Name: "group", Usage: "mirror group id, the request goes to its primary"},
		&cli.UintFlag{Name: "type", Usage: "request message type", Required: true},
		&cli.UintFlag{Name: "resp-type", Usage: "expected response message type", Required: true},
		&cli.StringFlag{Name: "preset", Usage: "retry preset: single, config or state-sleep", Value: "config"},
		&cli.BoolFlag{Name: "ordered", Usage: "attach a mirror group sequence number"},
		&cli.BoolFlag{Name: "adhoc", Usage: "allocate the buffer for this call instead of using the shared ones"},
		&cli.BoolFlag{Name: "no-wait", Usage: "fail instead of waiting for a free connection"},
		&cli.DurationFlag{Name: "timeout", Usage: "give up after this long (0 means no limit)"},
	},
	Action: runCall,
}

func parsePreset(s string) (messaging.Preset, error) {
	switch strings.ToLower(s) {
	case "single":
		return messaging.PresetSingleRetry, nil
	case "config":
		return messaging.PresetConfigRetry, nil
	case "state-sleep":
		return messaging.PresetStateSleep, nil
	default:
		return 0, fmt.Errorf("unknown preset %q", s)
	}
}

func parsePeer(c *cli.Context) (messaging.Peer, error) {
	node, group := c.Uint("node"), c.Uint("group")

	switch {
	case node != 0 && group != 0:
		return messaging.Peer{}, fmt.Errorf("--node and --group are mutually exclusive")
	case node != 0:
		return messaging.Target(targetstate.TargetID(node)), nil
	case group != 0:
		return messaging.MirrorGroup(seqno.GroupID(group)), nil
	default:
		return messaging.Peer{}, fmt.Errorf("either --node or --group is required")
	}
}

func runCall(c *cli.Context) error {
	peer, err := parsePeer(c)
	if err != nil {
		return err
	}

	preset, err := parsePreset(c.String("preset"))
	if err != nil {
		return err
	}

	payload, err := hex.DecodeString(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := setupLogger(conf.Verbose || c.Bool("verbose"))

	rt, err := setupRuntime(&conf, logger)
	if err != nil {
		return err
	}

	defer rt.close()

	var opts []messaging.CallOption
	if c.Bool("ordered") {
		opts = append(opts, messaging.WithOrdering())
	}

	if c.Bool("adhoc") {
		opts = append(opts, messaging.WithAdHocBuffer())
	}

	if c.Bool("no-wait") {
		opts = append(opts, messaging.WithNoWait())
	}

	ctx := c.Context
	if timeout := c.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)

		defer cancel()
	}

	req := netmsg.New(netmsg.Type(c.Uint("type")), payload)

	resp, err := rt.messenger.Call(ctx, peer, req, netmsg.Type(c.Uint("resp-type")), preset, opts...)
	if err != nil {
		return fmt.Errorf("call %s failed (%s): %w", peer, messaging.KindOf(err), err)
	}

	defer resp.Release()

	fmt.Fprintf(c.App.Writer, "type=%s len=%d seq=%d seq_done=%d\n",
		resp.Msg.Header.Type, resp.Msg.Len(), resp.Msg.Header.Sequence, resp.Msg.Header.SequenceDone)
	fmt.Fprint(c.App.Writer, hex.Dump(resp.Msg.Payload))

	return nil
}
