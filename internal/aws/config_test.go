package aws

import (
	"context"
	"os"
	"testing"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	os.Setenv("AWS_REGION", "")

	cfg, err := LoadAWSConfig(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Region != "us-east-1" {
		t.Fatalf("expected default region 'us-east-1', got %s", cfg.Region)
	}
}

func TestLoadAWSConfig_EnvRegion(t *testing.T) {
	os.Setenv("AWS_REGION", "eu-west-1")
	defer os.Setenv("AWS_REGION", "")

	cfg, err := LoadAWSConfig(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Region != "eu-west-1" {
		t.Fatalf("region mismatch, got %s", cfg.Region)
	}
}
