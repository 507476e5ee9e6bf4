package cmd

import (
	"fmt"
	"log"

	"countcoach/config"
	"countcoach/storage"

	"github.com/spf13/cobra"
)

var minioPrefix string

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Inspect the MinIO bucket",
	Long:  `Connect to the MinIO server and list objects in the CountCoach bucket, optionally filtered by prefix.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Connecting to MinIO server...")

		cfg := config.Load()
		fmt.Printf("MinIO config: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("Cannot connect to MinIO: %v", err)
		}
		fmt.Println("MinIO connection OK.")

		fmt.Printf("\nListing objects (prefix: %q)...\n", minioPrefix)
		if err := storage.ListObjects(cfg, minioPrefix); err != nil {
			log.Fatalf("Failed to list objects: %v", err)
		}

		fmt.Println("\nMinIO check complete.")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "filter objects by prefix")

	minioCmd.Example = `  # List every object in the bucket
  countcoach minio

  # List uploaded audio only
  countcoach minio -p "audio/"

  # List the overlay voice samples
  countcoach minio -p "samples/"`
}
