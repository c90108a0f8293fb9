package config

import (
	"fmt"
	"os"

	postgrest "github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

// SupabaseURL returns the Supabase project URL used for API requests.
func SupabaseURL() string {
	return os.Getenv("SUPABASE_URL")
}

// SupabaseKey returns the API key used for authentication. The service key
// takes precedence over the anonymous key when both are set.
func SupabaseKey() string {
	if key := os.Getenv("SUPABASE_SERVICE_KEY"); key != "" {
		return key
	}
	return os.Getenv("SUPABASE_ANON_KEY")
}

// NewSupabaseClient initializes the Supabase client from environment
// variables. Both SUPABASE_URL and one of SUPABASE_SERVICE_KEY /
// SUPABASE_ANON_KEY must be set.
func NewSupabaseClient() (*supa.Client, error) {
	url := SupabaseURL()
	key := SupabaseKey()
	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY (or SUPABASE_ANON_KEY) must be set in environment variables")
	}

	client, err := supa.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing Supabase client: %w", err)
	}
	return client, nil
}

// NewPostgrestClient builds a direct PostgREST client for query and RPC
// access to the document store.
func NewPostgrestClient() (*postgrest.Client, error) {
	url := SupabaseURL()
	key := SupabaseKey()
	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY (or SUPABASE_ANON_KEY) must be set in environment variables")
	}

	client := postgrest.NewClient(url+"/rest/v1", "", map[string]string{
		"apikey":        key,
		"Authorization": fmt.Sprintf("Bearer %s", key),
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("initializing PostgREST client: %w", client.ClientError)
	}
	return client, nil
}
