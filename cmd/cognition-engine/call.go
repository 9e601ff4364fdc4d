package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-cognition/internal/api"
)

func callCommand() *cobra.Command {
	var (
		target  string
		data    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call METHOD",
		Short: "Invoke a CognitionService method on a running engine",
		Long: `Invoke a CognitionService method with a JSON request body and print the
JSON response. Methods: ListActiveAnomalies, AcknowledgeAnomaly,
AnalyzeAnomaly, GetLatestAnalysis, SearchIncidents, SearchRunbooks, AddIncident, AddRunbook,
KnowledgeStats, GetStatus.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields map[string]any
			if err := json.Unmarshal([]byte(data), &fields); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}
			in, err := structpb.NewStruct(fields)
			if err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}

			conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connect %s: %w", target, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out, err := api.NewCognitionClient(conn).Call(ctx, args[0], in)
			if err != nil {
				return err
			}
			body, err := protojson.MarshalOptions{Multiline: true}.Marshal(out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "localhost:50061", "gRPC address of the engine")
	cmd.Flags().StringVar(&data, "data", "{}", "JSON request body")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}
