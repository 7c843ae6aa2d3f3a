package testing

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StartEmbeddedNATS starts an in-process NATS server with JetStream enabled.
//
// The server listens on a random port and stores data in t.TempDir(). Server and
// connection are shut down through t.Cleanup.
//
// Example:
//
//	func TestListener(t *testing.T) {
//	    _, nc := qftest.StartEmbeddedNATS(t)
//	    js, _ := jetstream.New(nc)
//	    // ...
//	}
func StartEmbeddedNATS(t testing.TB) (*server.Server, *nats.Conn) {
	t.Helper()

	ns, err := NewEmbeddedServer(t.TempDir(), -1)
	if err != nil {
		t.Fatalf("Failed to start embedded NATS server: %v", err)
	}

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(3),
	)
	if err != nil {
		ns.Shutdown()
		t.Fatalf("Failed to connect to embedded NATS server: %v", err)
	}

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return ns, nc
}

// NewEmbeddedServer starts a JetStream-enabled server storing data in storeDir.
// A port of -1 selects a random free port. The caller owns shutdown.
//
// cmd/quizflow uses it for the single-process --embedded mode.
func NewEmbeddedServer(storeDir string, port int) (*server.Server, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      port,
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within timeout")
	}

	return ns, nil
}

// CreateJetStreamKV creates a memory-backed KV bucket keeping one revision per key.
//
// Example:
//
//	_, nc := qftest.StartEmbeddedNATS(t)
//	kv := qftest.CreateJetStreamKV(t, nc, "quizflow-quiz")
func CreateJetStreamKV(t testing.TB, nc *nats.Conn, bucketName string) jetstream.KeyValue {
	t.Helper()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Failed to get JetStream context: %v", err)
	}

	kv, err := js.CreateKeyValue(t.Context(), jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Test KV bucket: %s", bucketName),
		History:     1,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
	})
	if err != nil {
		t.Fatalf("Failed to create KV bucket %s: %v", bucketName, err)
	}

	return kv
}
