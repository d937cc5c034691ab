package main

import (
	"encoding/json"
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

	"github.com/IBM/sarama"
	"github.com/sales-arena/internal/domain"
	"github.com/shopspring/decimal"
)

var clientNames = []string{
	"Ana", "Bruno", "Carla", "Diego", "Elisa", "Fabio", "Gabriela", "Heitor", "Iris", "Joao",
	"Karina", "Lucas", "Marina", "Nicolas", "Olivia", "Paulo", "Queila", "Rafael", "Sofia", "Tiago",
}

// randomSale builds a submission with a value in [minCents, maxCents]
func randomSale(attendantID string, minCents, maxCents int64, withClient bool) domain.SaleSubmission {
	cents := minCents + rand.Int63n(maxCents-minCents+1)
	s := domain.SaleSubmission{
		AttendantID: attendantID,
		Value:       decimal.New(cents, -domain.MoneyPlaces),
	}
	if withClient {
		name := clientNames[rand.Intn(len(clientNames))]
		s.Client = domain.ClientInfo{
			Name:  name,
			Email: strings.ToLower(name) + "@example.com",
		}
	}
	return s
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "sales.submitted", "Kafka topic")
	attendants := flag.String("attendants", "", "Attendant IDs to sell for (comma-separated, required)")
	salesPerSecond := flag.Int("rate", 50, "Sales per second")
	minValue := flag.String("min", "5.00", "Minimum sale value")
	maxValue := flag.String("max", "500.00", "Maximum sale value")
	clientRatio := flag.Int("client-ratio", 50, "Percentage of sales carrying client contact info")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	total := flag.Int("count", 0, "Stop after this many sales (0 = unlimited)")
	flag.Parse()

	ids := splitNonEmpty(*attendants)
	if len(ids) == 0 {
		log.Fatal("at least one attendant ID is required (-attendants)")
	}
	minSale, err := domain.ParseMoney(*minValue)
	if err != nil {
		log.Fatalf("invalid -min: %v", err)
	}
	maxSale, err := domain.ParseMoney(*maxValue)
	if err != nil || maxSale.LessThan(minSale) {
		log.Fatalf("invalid -max: must be a sale value not below -min")
	}
	if *salesPerSecond <= 0 {
		log.Fatal("-rate must be positive")
	}
	minCents := minSale.Shift(domain.MoneyPlaces).IntPart()
	maxCents := maxSale.Shift(domain.MoneyPlaces).IntPart()

	fmt.Println("----------------------------------------------------------------")
	fmt.Println("  Sale producer")
	fmt.Println("----------------------------------------------------------------")
	fmt.Printf("  Brokers:      %s\n", *brokers)
	fmt.Printf("  Topic:        %s\n", *topic)
	fmt.Printf("  Attendants:   %d\n", len(ids))
	fmt.Printf("  Sales/sec:    %d\n", *salesPerSecond)
	fmt.Printf("  Value range:  %s - %s\n", domain.FormatMoney(minSale), domain.FormatMoney(maxSale))
	fmt.Println("----------------------------------------------------------------")
	fmt.Println()

	// Configure Sarama producer. Keys are attendant IDs so one attendant's
	// sales land on one partition in order.
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount, sentCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdown := func(reason string) {
		fmt.Printf("\n%s, shutting down...\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Queued: %d, Acked: %d, Errors: %d\n",
			atomic.LoadInt64(&sentCount),
			atomic.LoadInt64(&successCount),
			atomic.LoadInt64(&errorCount),
		)
	}

	ticker := time.NewTicker(time.Second / time.Duration(*salesPerSecond))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	fmt.Println("Press Ctrl+C to stop")
	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached")
				return
			}
			if *total > 0 && atomic.LoadInt64(&sentCount) >= int64(*total) {
				shutdown("Count reached")
				return
			}

			sale := randomSale(ids[rand.Intn(len(ids))], minCents, maxCents, rand.Intn(100) < *clientRatio)
			data, err := json.Marshal(sale)
			if err != nil {
				log.Printf("Failed to marshal sale: %v", err)
				continue
			}
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(sale.AttendantID),
				Value: sarama.ByteEncoder(data),
			}
			atomic.AddInt64(&sentCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Queued: %d | Acked: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&sentCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
