package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-core"
	"github.com/edgeo-scada/modbus-core/persist"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the register context over TCP and/or UDP",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if tcpAddr == "" && udpAddr == "" {
		return fmt.Errorf("nothing to serve: both --tcp and --udp are empty")
	}

	mctx := modbus.NewContextSized(coilCount, coilCount, regCount, regCount)

	var store persist.Store
	if persistPath != "" {
		if persistMmap {
			store = persist.NewMmapStore(persistPath, len(mctx.Dump()))
		} else {
			store = persist.NewFileStore(persistPath)
		}
		defer store.Close()

		blob, err := store.Load()
		if err != nil {
			return err
		}
		if blob != nil {
			if err := mctx.Restore(blob); err != nil {
				return fmt.Errorf("restore %s: %w", persistPath, err)
			}
			logger.Info("context restored", slog.String("path", persistPath))
		}
	}

	engine := modbus.NewEngine(modbus.UnitID(unitID), mctx, modbus.WithLogger(logger))
	latency := modbus.NewLatencyHistogram()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if tcpAddr != "" {
		ln, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			return err
		}
		logger.Info("listening", slog.String("transport", "tcp"), slog.String("addr", tcpAddr))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveTCP(ctx, ln, engine, latency); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	if udpAddr != "" {
		conn, err := net.ListenPacket("udp", udpAddr)
		if err != nil {
			return err
		}
		logger.Info("listening", slog.String("transport", "udp"), slog.String("addr", udpAddr))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveUDP(ctx, conn, engine); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	if store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			saveLoop(ctx, store, mctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	close(errCh)

	if store != nil {
		if err := store.Save(mctx.Dump()); err != nil {
			logger.Error("final snapshot failed", slog.String("error", err.Error()))
		}
	}

	for _, kv := range sortedMetrics(engine.Metrics().Collect()) {
		logger.Info("engine counter", slog.String("name", kv.name), slog.Int64("value", kv.value))
	}
	if stats := latency.Stats(); stats.Count > 0 {
		logger.Info("frame latency",
			slog.Int64("count", stats.Count),
			slog.Float64("avg_ms", stats.Avg),
			slog.Float64("max_ms", stats.Max))
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

// serveTCP accepts connections and feeds complete MBAP frames to the engine.
func serveTCP(ctx context.Context, ln net.Listener, engine *modbus.Engine, latency *modbus.LatencyHistogram) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()

			for {
				frame, err := modbus.ReadFrame(conn)
				if err != nil {
					return
				}

				start := time.Now()
				resp := engine.Process(frame, modbus.TransportTCP)
				latency.Observe(time.Since(start))

				if resp == nil {
					continue
				}
				if _, err := conn.Write(resp); err != nil {
					return
				}
			}
		}()
	}
}

// serveUDP answers one datagram per request.
func serveUDP(ctx context.Context, conn net.PacketConn, engine *modbus.Engine) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, modbus.MaxADUSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		resp := engine.Process(buf[:n], modbus.TransportUDP)
		if resp == nil {
			continue
		}
		if _, err := conn.WriteTo(resp, addr); err != nil {
			return err
		}
	}
}

// saveLoop snapshots the context periodically. Persistence cadence lives here
// in the daemon; the library itself never writes to disk on its own.
func saveLoop(ctx context.Context, store persist.Store, mctx *modbus.Context) {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Save(mctx.Dump()); err != nil {
				logger.Error("snapshot failed", slog.String("error", err.Error()))
				continue
			}
			logger.Debug("context snapshot saved")
		}
	}
}

type metricKV struct {
	name  string
	value int64
}

func sortedMetrics(m map[string]int64) []metricKV {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]metricKV, 0, len(keys))
	for _, k := range keys {
		out = append(out, metricKV{name: k, value: m[k]})
	}
	return out
}
