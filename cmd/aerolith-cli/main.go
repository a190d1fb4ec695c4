// aerolith-cli is a Cobra-based admin CLI for a single AerolithDB node,
// generalizing the teacher's cmd/client from single-string KV values to
// JSON documents in collections.
//
// Usage:
//
//	aerolith-cli put mycollection mydoc '{"name":"alice"}' --server http://localhost:7700
//	aerolith-cli get mycollection mydoc                    --server http://localhost:7700
//	aerolith-cli delete mycollection mydoc                 --server http://localhost:7700
//	aerolith-cli cluster nodes                             --server http://localhost:7700
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aerolithdb/aerolithdb/internal/client"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "aerolith-cli",
		Short: "Admin CLI for an AerolithDB node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:7700", "AerolithDB node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), clusterCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <collection> <id> <json-payload>",
		Short: "Store a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any
			if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
				return fmt.Errorf("payload is not valid JSON: %w", err)
			}
			c := client.New(serverAddr, timeout)
			resp, err := c.Put(context.Background(), args[0], args[1], payload)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Retrieve a document by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Get(context.Background(), args[0], args[1])
			if err == client.ErrNotFound {
				fmt.Printf("%s/%s not found\n", args[0], args[1])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.Delete(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("deleted %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "nodes",
		Short: "List all cluster nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.GetRaw(context.Background(), "/cluster/nodes")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})

	joinCmd := &cobra.Command{
		Use:   "join <nodeID> <address>",
		Short: "Join a node to the cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.JoinCluster(context.Background(), args[0], args[1])
		},
	}

	leaveCmd := &cobra.Command{
		Use:   "leave <nodeID>",
		Short: "Remove a node from the cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.LeaveCluster(context.Background(), args[0])
		},
	}

	cmd.AddCommand(joinCmd, leaveCmd)
	return cmd
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
