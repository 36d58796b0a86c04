package flightexport

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// TokenBatch is one shipment of generated output: parallel columns of
// position, token id, decoded text and the prompt/generated flag.
type TokenBatch struct {
	RunID     string
	Positions []int32
	IDs       []int32
	Texts     []string
	Generated []bool
}

func (b *TokenBatch) Len() int { return len(b.IDs) }

// Exporter ships token batches to a downstream consumer.
type Exporter interface {
	Export(ctx context.Context, batch TokenBatch) error
	Close() error
}

// TokenSchema is the Arrow schema used for every exported record batch.
func TokenSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "run_id", Type: arrow.BinaryTypes.String},
		{Name: "position", Type: arrow.PrimitiveTypes.Int32},
		{Name: "token_id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "text", Type: arrow.BinaryTypes.String},
		{Name: "generated", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
}

// record builds an Arrow record from the batch; callers release it.
func record(batch TokenBatch) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, TokenSchema())
	defer b.Release()
	for i := 0; i < batch.Len(); i++ {
		b.Field(0).(*array.StringBuilder).Append(batch.RunID)
		b.Field(1).(*array.Int32Builder).Append(batch.Positions[i])
		b.Field(2).(*array.Int32Builder).Append(batch.IDs[i])
		b.Field(3).(*array.StringBuilder).Append(batch.Texts[i])
		b.Field(4).(*array.BooleanBuilder).Append(batch.Generated[i])
	}
	return b.NewRecord()
}

// FlightExporter streams batches to an Arrow Flight endpoint via DoPut.
type FlightExporter struct {
	client flight.Client
	addr   string
}

func NewFlightExporter(addr string) (*FlightExporter, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting flight endpoint %q: %w", addr, err)
	}
	logger.Log.Info("flight exporter connected", "addr", addr)
	return &FlightExporter{client: client, addr: addr}, nil
}

func (f *FlightExporter) Export(ctx context.Context, batch TokenBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	stream, err := f.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("flight DoPut: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(TokenSchema()))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"tokens", batch.RunID},
	})

	rec := record(batch)
	defer rec.Release()
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("flight write: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("flight close: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("flight close send: %w", err)
	}
	// drain acknowledgements
	for {
		if _, err := stream.Recv(); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("flight ack: %w", err)
		}
	}
}

func (f *FlightExporter) Close() error {
	return f.client.Close()
}
