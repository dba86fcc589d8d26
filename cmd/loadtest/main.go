package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/crossdesk/crossdesk/pkg/client"
	"github.com/crossdesk/crossdesk/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(loremIpsum)

// randomClipboard produces filler clipboard content of 5-40 words.
func randomClipboard() string {
	wordCount := 5 + rand.Intn(36)
	words := make([]string, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		words = append(words, loremWords[rand.Intn(len(loremWords))])
	}
	return strings.Join(words, " ")
}

// Stats tracks performance metrics
type Stats struct {
	connected        atomic.Int64
	connectionErrors atomic.Int64
	rejections       atomic.Int64
	disconnections   atomic.Int64

	clipboardsSent    atomic.Int64
	clipboardFailures atomic.Int64
	eventsReceived    atomic.Int64

	totalConnectTime atomic.Int64 // in microseconds
}

func (s *Stats) recordConnect(connectTimeUs int64) {
	s.connected.Add(1)
	s.totalConnectTime.Add(connectTimeUs)
}

func (s *Stats) recordRejection() {
	s.rejections.Add(1)
}

func (s *Stats) recordConnectionError() {
	s.connectionErrors.Add(1)
}

func (s *Stats) recordDisconnection() {
	s.disconnections.Add(1)
}

func (s *Stats) recordClipboard(err error) {
	if err != nil {
		s.clipboardFailures.Add(1)
		return
	}
	s.clipboardsSent.Add(1)
}

func (s *Stats) snapshot() (connected, sent, failed, events int64, avgConnectUs float64) {
	connected = s.connected.Load()
	sent = s.clipboardsSent.Load()
	failed = s.clipboardFailures.Load()
	events = s.eventsReceived.Load()
	if connected > 0 {
		avgConnectUs = float64(s.totalConnectTime.Load()) / float64(connected)
	}
	return
}

// BotClient is one synthetic screen for load testing. The server must
// have its screen name configured or the connection is rejected.
type BotClient struct {
	id    int
	name  string
	stats *Stats
	conn  *client.Connection
}

func NewBotClient(id int, prefix string, stats *Stats) *BotClient {
	return &BotClient{
		id:    id,
		name:  fmt.Sprintf("%s-%d", prefix, id),
		stats: stats,
	}
}

func (bc *BotClient) Connect(ctx context.Context, serverAddr string) error {
	cb, err := client.NewBuilder().
		Name(bc.name).
		ScreenInfo(protocol.ClientInfo{Width: 1920, Height: 1080}).
		Config(client.Config{
			ConnectTimeout: 10 * time.Second,
			RetryDelay:     250 * time.Millisecond,
			MaxRetries:     3,
		}).
		EventSink(client.EventSinkFunc(func(protocol.Message) {
			bc.stats.eventsReceived.Add(1)
		})).
		ServerAddr(serverAddr)
	if err != nil {
		return err
	}

	start := time.Now()
	conn, err := cb.Connect(ctx)
	if err != nil {
		if client.IsRejection(err) {
			bc.stats.recordRejection()
		} else {
			bc.stats.recordConnectionError()
		}
		return err
	}
	bc.stats.recordConnect(time.Since(start).Microseconds())
	bc.conn = conn
	return nil
}

func (bc *BotClient) Run(ctx context.Context, duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	endTime := time.Now().Add(duration)

	for time.Now().Before(endTime) {
		bc.stats.recordClipboard(bc.conn.SendClipboard(0, randomClipboard()))

		delay := minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)))
		select {
		case <-time.After(delay):
		case <-bc.conn.Done():
			bc.stats.recordDisconnection()
			return
		case <-ctx.Done():
			bc.conn.Close()
			return
		}
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 {
		select {
		case <-time.After(shutdownDelay):
		case <-ctx.Done():
		}
	}
	bc.conn.Close()
}

func main() {
	serverAddr := flag.String("server", "localhost:24800", "Server address (host:port)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	prefix := flag.String("prefix", "load", "Screen name prefix (server must have <prefix>-0..N-1 configured)")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between clipboard sends")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between clipboard sends")
	flag.Parse()

	// Ramp up over 25% of test duration.
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Clients: %d (named %s-0..%s-%d)", *numClients, *prefix, *prefix, *numClients-1)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)
	log.Printf("")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := &Stats{}
	var wg sync.WaitGroup

	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				connected, sent, failed, events, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				rate := float64(sent) / elapsed
				log.Printf("Stats: %d connected, %d clipboards (%.1f/s), %d failed, %d events, avg connect %.2fms",
					connected, sent, rate, failed, events, avgUs/1000.0)
			case <-stopStats:
				return
			}
		}
	}()

	for i := 0; i < *numClients; i++ {
		wg.Add(1)

		// Reverse order for ramp-down.
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot := NewBotClient(id, *prefix, stats)
			if err := bot.Connect(ctx, *serverAddr); err != nil {
				if id%100 == 0 {
					log.Printf("[Bot %d] Connect failed: %v", id, err)
				}
				return
			}
			if id%100 == 0 {
				log.Printf("[Bot %d] Connected as %s", id, bot.name)
			}

			bot.Run(ctx, *duration, *minDelay, *maxDelay, shutdownDelay)
		}(i, shutdownDelay)

		select {
		case <-time.After(staggerDelay):
		case <-ctx.Done():
		}
	}

	wg.Wait()
	close(stopStats)

	connected, sent, failed, events, avgUs := stats.snapshot()
	rejections := stats.rejections.Load()
	connErrors := stats.connectionErrors.Load()
	disconnects := stats.disconnections.Load()
	rate := float64(sent) / duration.Seconds()

	log.Printf("\n=== Final Results ===")
	log.Printf("Duration: %v", *duration)
	log.Printf("Clients connected: %d", connected)
	log.Printf("  - Rejections: %d", rejections)
	log.Printf("  - Connection errors: %d", connErrors)
	log.Printf("  - Mid-test disconnections: %d", disconnects)
	log.Printf("Clipboards sent: %d (%.1f/s)", sent, rate)
	log.Printf("Clipboard failures: %d", failed)
	log.Printf("Events received: %d", events)
	log.Printf("Average connect time: %.2fms", avgUs/1000.0)

	if sent > 0 {
		successRate := float64(sent) / float64(sent+failed) * 100
		log.Printf("Success rate: %.1f%%", successRate)
	}
}
