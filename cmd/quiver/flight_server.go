package main

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SnapshotSink is a Flight service that accepts published buffer snapshots
// and counts rows per dataset. It is the receiving end for -server.
type SnapshotSink struct {
	flight.BaseFlightServer
	alloc memory.Allocator

	mu   sync.Mutex
	rows map[string]int64
}

func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{
		alloc: memory.NewGoAllocator(),
		rows:  make(map[string]int64),
	}
}

func (s *SnapshotSink) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	return errors.New("DoExchange not implemented")
}

func (s *SnapshotSink) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	dataset := "default"
	if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
		dataset = desc.Path[0]
	}
	for reader.Next() {
		rec := reader.Record()
		s.mu.Lock()
		s.rows[dataset] += rec.NumRows()
		s.mu.Unlock()
		log.Info().Str("dataset", dataset).Int64("rows", rec.NumRows()).Msg("DoPut received snapshot")
	}
	return reader.Err()
}

// Rows returns the number of rows received for dataset.
func (s *SnapshotSink) Rows(dataset string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[dataset]
}

func StartFlightServer(addr string, sink *SnapshotSink) error {
	server := flight.NewFlightServer()
	server.RegisterFlightService(sink)

	if err := server.Init(addr); err != nil {
		return errors.Wrap(err, "init Flight server")
	}
	log.Info().Str("addr", server.Addr().String()).Msg("Starting snapshot Flight server")
	return server.Serve()
}
