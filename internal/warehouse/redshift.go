package warehouse

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"

	"isspipe/internal/domain"
)

// Compile-time interface check.
var _ Executor = (*RedshiftExecutor)(nil)

// RedshiftDataAPI is the subset of the Redshift Data API client the executor
// calls.
type RedshiftDataAPI interface {
	ExecuteStatement(ctx context.Context, in *redshiftdata.ExecuteStatementInput, opts ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error)
	DescribeStatement(ctx context.Context, in *redshiftdata.DescribeStatementInput, opts ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error)
}

// RedshiftExecutor runs statements on a Redshift Serverless workgroup through
// the Data API.
type RedshiftExecutor struct {
	client    RedshiftDataAPI
	database  string
	workgroup string
}

// NewRedshiftExecutor creates an executor targeting database on workgroup.
func NewRedshiftExecutor(client RedshiftDataAPI, database, workgroup string) *RedshiftExecutor {
	return &RedshiftExecutor{client: client, database: database, workgroup: workgroup}
}

// Submit calls ExecuteStatement with completion events enabled.
func (e *RedshiftExecutor) Submit(ctx context.Context, sql string) (string, error) {
	out, err := e.client.ExecuteStatement(ctx, &redshiftdata.ExecuteStatementInput{
		Database:      aws.String(e.database),
		WorkgroupName: aws.String(e.workgroup),
		Sql:           aws.String(sql),
		WithEvent:     aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("execute statement: %w", err)
	}
	id := aws.ToString(out.Id)
	if id == "" {
		return "", fmt.Errorf("execute statement: empty statement id")
	}
	return id, nil
}

// Describe calls DescribeStatement and maps its status.
func (e *RedshiftExecutor) Describe(ctx context.Context, id string) (Statement, error) {
	out, err := e.client.DescribeStatement(ctx, &redshiftdata.DescribeStatementInput{Id: aws.String(id)})
	if err != nil {
		return Statement{}, fmt.Errorf("describe statement %s: %w", id, err)
	}
	status, err := domain.ParseJobStatus(string(out.Status))
	if err != nil {
		return Statement{}, fmt.Errorf("describe statement %s: %w", id, err)
	}
	return Statement{ID: id, Status: status, Detail: aws.ToString(out.Error)}, nil
}
