// Package identity resolves the IAM role the warehouse assumes to read bulk
// load sources.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ErrNoAccount is returned when no account id can be determined.
var ErrNoAccount = errors.New("no account id")

// Resolver produces the role ARN used in COPY statements.
type Resolver interface {
	RoleARN(ctx context.Context) (string, error)
}

var accountRe = regexp.MustCompile(`^\d{12}$`)

// RoleARN formats the ARN of roleName in account.
func RoleARN(account, roleName string) (string, error) {
	if !accountRe.MatchString(account) {
		return "", fmt.Errorf("invalid account id %q", account)
	}
	if roleName == "" {
		return "", errors.New("empty role name")
	}
	return "arn:aws:iam::" + account + ":role/" + roleName, nil
}

// Static resolves from configuration: an explicit ARN wins, otherwise the
// ARN is built from AccountID and RoleName.
type Static struct {
	ARN       string
	AccountID string
	RoleName  string
}

// RoleARN implements Resolver.
func (s Static) RoleARN(context.Context) (string, error) {
	if s.ARN != "" {
		return s.ARN, nil
	}
	if s.AccountID == "" {
		return "", ErrNoAccount
	}
	return RoleARN(s.AccountID, s.RoleName)
}

// STSAPI is the subset of the STS client the resolver calls.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, opts ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// STSResolver looks up the caller's account once through STS.
type STSResolver struct {
	Client   STSAPI
	RoleName string
}

// RoleARN implements Resolver.
func (r STSResolver) RoleARN(ctx context.Context) (string, error) {
	out, err := r.Client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	account := aws.ToString(out.Account)
	if account == "" {
		return "", ErrNoAccount
	}
	return RoleARN(account, r.RoleName)
}

// Chain tries each resolver in turn and returns the first success. It falls
// through only on ErrNoAccount.
type Chain []Resolver

// RoleARN implements Resolver.
func (c Chain) RoleARN(ctx context.Context) (string, error) {
	for _, r := range c {
		arn, err := r.RoleARN(ctx)
		if errors.Is(err, ErrNoAccount) {
			continue
		}
		return arn, err
	}
	return "", ErrNoAccount
}
