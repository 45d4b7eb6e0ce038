package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	domrepo "Genesis/internal/domain/repository"
	xhttp "Genesis/pkg/http"
	pkgkafka "Genesis/pkg/kafka"
	applogger "Genesis/pkg/logger"
	"Genesis/pkg/queue"
)

// Broker command kinds.
const (
	CommandClose  = "close"
	CommandModify = "modify"
)

// BrokerCommandType is the queue message type for broker commands.
const BrokerCommandType = "broker.command"

// BrokerCommand is the wire form of a position management request.
type BrokerCommand struct {
	Kind       string    `json:"kind"`
	Ticket     string    `json:"ticket"`
	Reason     string    `json:"reason,omitempty"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
}

func closeCommand(ticket, reason string) BrokerCommand {
	return BrokerCommand{Kind: CommandClose, Ticket: ticket, Reason: reason, IssuedAt: time.Now().UTC()}
}

func modifyCommand(ticket string, sl, tp *float64) BrokerCommand {
	return BrokerCommand{Kind: CommandModify, Ticket: ticket, StopLoss: sl, TakeProfit: tp, IssuedAt: time.Now().UTC()}
}

type kafkaPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaBroker publishes broker commands keyed by ticket, so commands for
// one position stay ordered within a partition.
type KafkaBroker struct {
	producer kafkaPublisher
	topic    string
}

func NewKafkaBroker(producer *pkgkafka.Producer, topic string) *KafkaBroker {
	return &KafkaBroker{producer: producer, topic: topic}
}

func (b *KafkaBroker) ClosePosition(ctx context.Context, ticket, reason string) error {
	return b.producer.Publish(ctx, b.topic, []byte(ticket), closeCommand(ticket, reason))
}

func (b *KafkaBroker) ModifyPosition(ctx context.Context, ticket string, sl, tp *float64) error {
	return b.producer.Publish(ctx, b.topic, []byte(ticket), modifyCommand(ticket, sl, tp))
}

func (b *KafkaBroker) Close() error {
	if b.producer != nil {
		return b.producer.Close()
	}
	return nil
}

// QueueBroker enqueues broker commands on the Redis job queue.
type QueueBroker struct {
	queue queue.QueueService
}

func NewQueueBroker(q queue.QueueService) *QueueBroker {
	return &QueueBroker{queue: q}
}

func (b *QueueBroker) ClosePosition(ctx context.Context, ticket, reason string) error {
	return b.queue.PublishMessage(ctx, BrokerCommandType, closeCommand(ticket, reason))
}

func (b *QueueBroker) ModifyPosition(ctx context.Context, ticket string, sl, tp *float64) error {
	return b.queue.PublishMessage(ctx, BrokerCommandType, modifyCommand(ticket, sl, tp))
}

func (b *QueueBroker) Close() error { return nil }

// OANDABroker executes commands against the v20 trades endpoints.
type OANDABroker struct {
	client    *xhttp.Client
	baseURL   string
	accountID string
}

func NewOANDABroker(client *xhttp.Client, baseURL, accountID string) *OANDABroker {
	return &OANDABroker{client: client, baseURL: baseURL, accountID: accountID}
}

func (b *OANDABroker) tradeURL(ticket, suffix string) string {
	return fmt.Sprintf("%s/v3/accounts/%s/trades/%s/%s", b.baseURL, b.accountID, ticket, suffix)
}

type oandaPrice struct {
	Price string `json:"price"`
}

func (b *OANDABroker) ClosePosition(ctx context.Context, ticket, _ string) error {
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPut,
		URL:    b.tradeURL(ticket, "close"),
		Body:   map[string]string{"units": "ALL"},
	}, nil)
	if err != nil {
		return fmt.Errorf("close trade %s: %w", ticket, err)
	}
	return nil
}

func (b *OANDABroker) ModifyPosition(ctx context.Context, ticket string, sl, tp *float64) error {
	body := map[string]oandaPrice{}
	if sl != nil {
		body["stopLoss"] = oandaPrice{Price: strconv.FormatFloat(*sl, 'f', -1, 64)}
	}
	if tp != nil {
		body["takeProfit"] = oandaPrice{Price: strconv.FormatFloat(*tp, 'f', -1, 64)}
	}
	if len(body) == 0 {
		return nil
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPut,
		URL:    b.tradeURL(ticket, "orders"),
		Body:   body,
	}, nil)
	if err != nil {
		return fmt.Errorf("modify trade %s: %w", ticket, err)
	}
	return nil
}

func (b *OANDABroker) Close() error { return nil }

// BrokerCommandJob consumes queued commands and forwards them to an executor.
type BrokerCommandJob struct {
	exec domrepo.Broker
	l    *applogger.Logger
}

func NewBrokerCommandJob(exec domrepo.Broker, l *applogger.Logger) *BrokerCommandJob {
	if l == nil {
		l = applogger.NewNop()
	}
	return &BrokerCommandJob{exec: exec, l: l}
}

func (j *BrokerCommandJob) Name() string { return "broker-command" }

func (j *BrokerCommandJob) Type() string { return BrokerCommandType }

func (j *BrokerCommandJob) Handle(ctx context.Context, payload json.RawMessage) error {
	cmd, err := queue.Decode[BrokerCommand](payload)
	if err != nil {
		return err
	}
	if cmd.Ticket == "" {
		return fmt.Errorf("broker command without ticket")
	}
	switch cmd.Kind {
	case CommandClose:
		err = j.exec.ClosePosition(ctx, cmd.Ticket, cmd.Reason)
	case CommandModify:
		err = j.exec.ModifyPosition(ctx, cmd.Ticket, cmd.StopLoss, cmd.TakeProfit)
	default:
		return fmt.Errorf("unknown broker command %q", cmd.Kind)
	}
	if err != nil {
		return err
	}
	j.l.Info("broker command executed",
		applogger.String("kind", cmd.Kind),
		applogger.String("ticket", cmd.Ticket),
		applogger.String("reason", cmd.Reason),
	)
	return nil
}

var (
	_ domrepo.Broker = (*KafkaBroker)(nil)
	_ domrepo.Broker = (*QueueBroker)(nil)
	_ domrepo.Broker = (*OANDABroker)(nil)
	_ queue.Job      = (*BrokerCommandJob)(nil)
)
