package publisher

import (
	"encoding/json"
	"time"

	"codeberg.org/gec/sensord/internal/analyzer"
	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/session"
	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

// MessageType tags a payload in the AMQP type property. Consumers dispatch on
// it, so the values are part of the wire contract.
type MessageType string

const (
	RegisterNewGasData       MessageType = "RegisterNewGasDataCommand"
	CompleteGasDataMeasuring MessageType = "CompleteGasDataMeasuringCommand"

	contentTypeJSON = "application/json"
)

// Routes maps each message type to the queue it is published to.
type Routes map[MessageType]string

// NewRoutes builds the static routing table for session events.
func NewRoutes(registerQueue, completeQueue string) Routes {
	return Routes{
		RegisterNewGasData:       registerQueue,
		CompleteGasDataMeasuring: completeQueue,
	}
}

// Queues returns the distinct queue names in a stable order.
func (r Routes) Queues() []string {
	var queues []string
	seen := make(map[string]bool, len(r))
	for _, t := range []MessageType{RegisterNewGasData, CompleteGasDataMeasuring} {
		if q, ok := r[t]; ok && !seen[q] {
			seen[q] = true
			queues = append(queues, q)
		}
	}
	return queues
}

type registerNewGasDataCommand struct {
	CorrelationID uuid.UUID `json:"CorrelationId"`
	StartedAt     time.Time `json:"StartedAt"`
}

type completeGasDataMeasuringCommand struct {
	CorrelationID uuid.UUID   `json:"CorrelationId"`
	CompletedAt   time.Time   `json:"CompletedAt"`
	CO            json.Number `json:"CO"`
	CO2           json.Number `json:"CO2"`
	O2            json.Number `json:"O2"`
	HC            int         `json:"HC"`
	NO            int         `json:"NO"`
	Lambda        json.Number `json:"Lambda"`
}

// Encode serializes a session event into its JSON command body.
func Encode(event session.Event) (MessageType, []byte, error) {
	errFactory := errors.New()

	var (
		msgType MessageType
		payload any
	)

	switch e := event.(type) {
	case session.Started:
		msgType = RegisterNewGasData
		payload = registerNewGasDataCommand{
			CorrelationID: e.CorrelationID,
			StartedAt:     e.StartedAt,
		}
	case session.Completed:
		msgType = CompleteGasDataMeasuring
		payload = completeCommand(e.CorrelationID, e.CompletedAt, e.Best)
	default:
		return "", nil, errFactory.WithData(ErrUnknownEvent, event)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, errFactory.Wrap(ErrEncodeFailed, err)
	}

	return msgType, body, nil
}

func completeCommand(id uuid.UUID, at time.Time, best analyzer.Reading) completeGasDataMeasuringCommand {
	lambda := best.Lambda()
	return completeGasDataMeasuringCommand{
		CorrelationID: id,
		CompletedAt:   at,
		CO:            number(&best.CO),
		CO2:           number(&best.CO2),
		O2:            number(&best.O2),
		HC:            best.HC,
		NO:            best.NO,
		Lambda:        number(&lambda),
	}
}

func number(d *apd.Decimal) json.Number {
	return json.Number(d.Text('f'))
}
