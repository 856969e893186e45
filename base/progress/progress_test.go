// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ProgressTestSuite struct {
	suite.Suite
	tracer *Tracer
}

func (suite *ProgressTestSuite) SetupTest() {
	suite.tracer = NewTracer("test")
}

func (suite *ProgressTestSuite) TestLeafProgress() {
	_, span := suite.tracer.Start(context.Background(), "root", 100)
	progressList := suite.tracer.List()
	suite.Equal(1, len(progressList))
	suite.Equal("test", progressList[0].Tracer)
	suite.Equal("root", progressList[0].Name)
	suite.Equal(StatusRunning, progressList[0].Status)
	suite.Empty(progressList[0].Error)
	suite.Equal(100, progressList[0].Total)
	suite.Empty(progressList[0].Count)
	suite.LessOrEqual(progressList[0].StartTime, time.Now())

	span.Add(10)
	progressList = suite.tracer.List()
	suite.Equal(1, len(progressList))
	suite.Equal(10, progressList[0].Count)
	suite.Equal(10, span.Count())

	span.End()
	progressList = suite.tracer.List()
	suite.Equal(1, len(progressList))
	suite.Equal(StatusComplete, progressList[0].Status)
	suite.Equal(100, progressList[0].Count)
	suite.LessOrEqual(progressList[0].StartTime, progressList[0].FinishTime)
}

func (suite *ProgressTestSuite) TestFailedProgress() {
	ctx, _ := suite.tracer.Start(context.Background(), "root", 100)
	Fail(ctx, errors.New("some error"))
	progressList := suite.tracer.List()
	suite.Equal(1, len(progressList))
	suite.Equal(StatusFailed, progressList[0].Status)
	suite.Equal("some error", progressList[0].Error)
}

func (suite *ProgressTestSuite) TestChildProgress() {
	newCtx, rootSpan := suite.tracer.Start(context.Background(), "root", 100)
	childCtx, childSpan := Start(newCtx, "child", 8)
	suite.NotNil(childCtx)
	childSpan.Add(2)
	suite.Equal(2, childSpan.Count())
	childSpan.End()
	suite.Equal(0, rootSpan.Count())

	// the listing flattens the tree, parent first
	progressList := suite.tracer.List()
	suite.Equal(2, len(progressList))
	suite.Equal("root", progressList[0].Name)
	suite.Equal(StatusRunning, progressList[0].Status)
	suite.Equal("child", progressList[1].Name)
	suite.Equal(StatusComplete, progressList[1].Status)
	suite.Equal(8, progressList[1].Count)

	// spans created without a parent are detached
	_, orphan := Start(context.Background(), "orphan", 4)
	orphan.Add(1)
	suite.Equal(1, orphan.Count())
	suite.Equal(2, len(suite.tracer.List()))
}

func TestProgressTestSuite(t *testing.T) {
	suite.Run(t, new(ProgressTestSuite))
}
